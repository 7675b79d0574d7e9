package dht

import (
	"net"

	"github.com/kutluhann/kademlia-dht/id_tools"
)

// HandleMessage is the single entry point for inbound datagrams. Nothing
// that happens while handling one datagram may stop the read loop.
func (n *Node) HandleMessage(data []byte, from *net.UDPAddr) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Handler panicked", "from", from, "err", r)
		}
	}()

	msg, payload, err := DecodeMessage(data)
	if err != nil {
		n.logger.Warn("Dropped datagram", "from", from, "err", err)
		return
	}
	sender := Contact{ID: msg.SenderID, IP: from.IP.String(), Port: uint16(from.Port)}
	n.confirmSender(sender, from)
	n.RoutingTable.Update(sender)

	switch p := payload.(type) {
	case Reply:
		if !n.udp.Resolve(msg.RPCID, p.Data) {
			n.logger.Trace("Dropped unmatched reply", "rpc", msg.RPCID, "from", sender)
		}
		return
	case PingRequest:
		n.HandlePing(sender)
		n.reply(sender, msg, nil)
	case StoreRequest:
		n.HandleStore(sender, p.Key, []byte(p.Block))
		n.reply(sender, msg, nil)
	case FindNodeRequest:
		target := sender.ID
		if p.Target != nil {
			target = *p.Target
		}
		n.reply(sender, msg, FindNodeResponse{Contacts: n.HandleFindNode(sender, target)})
	case FindValueRequest:
		value, contacts, found := n.HandleFindValue(sender, p.Key)
		if found {
			n.reply(sender, msg, string(value))
		} else {
			n.reply(sender, msg, FindNodeResponse{Contacts: contacts})
		}
	}
}

func (n *Node) reply(to Contact, req Message, payload interface{}) {
	if err := n.udp.Reply(to, req.RPCID, payload); err != nil {
		n.logger.Warn("Reply failed", "type", req.Type, "to", to, "err", err)
	}
}

// ---------------------------------------------------------
// SERVER HANDLERS (RPC Logic)
// The sender has already been offered to the routing table.
// ---------------------------------------------------------

func (n *Node) HandlePing(sender Contact) {
	n.logger.Trace("PING", "from", sender)
}

// HandleStore keeps the block. The reply carries no status either way.
func (n *Node) HandleStore(sender Contact, key string, block []byte) {
	if err := n.Storage.Put(key, block); err != nil {
		n.logger.Warn("STORE rejected", "key", key, "from", sender, "err", err)
		return
	}
	n.logger.Debug("STORE", "key", key, "size", len(block), "from", sender)
}

// HandleFindNode answers "who is close to target?" from our table.
func (n *Node) HandleFindNode(sender Contact, target NodeID) []Contact {
	return n.RoutingTable.FindClosest(target, n.cfg.k)
}

// HandleFindValue returns the value if we hold it, otherwise the K closest
// contacts to the key so the asker can keep searching.
func (n *Node) HandleFindValue(sender Contact, key string) ([]byte, []Contact, bool) {
	if value, err := n.Storage.Get(key); err == nil {
		return value, nil, true
	}
	return nil, n.RoutingTable.FindClosest(id_tools.KeyID(key), n.cfg.k), false
}
