package dht

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/kutluhann/kademlia-dht/id_tools"
)

// Node is one DHT participant: its routing table, content store and the
// network it talks through. All state is per instance.
type Node struct {
	Self         Contact
	RoutingTable *RoutingTable
	Network      Network
	Storage      *ContentStore

	cfg    *config
	logger log.Logger
	udp    *UDPNetwork
	closed atomic.Bool

	// Bootstrap contacts whose id was derived from their address, keyed by
	// that address, until the peer tells us its real id.
	mutex       sync.Mutex
	provisional map[string]NodeID
	retired     map[NodeID]struct{}
}

// NewNode builds a node on top of an existing network. Inbound messages
// must be fed to it by that network.
func NewNode(self Contact, network Network, opts ...Option) *Node {
	cfg := newConfig(opts)
	if cfg.nodeID != nil {
		self.ID = *cfg.nodeID
	}
	n := &Node{
		Self:    self,
		Network: network,
		Storage: NewContentStore(cfg.sealer),
		cfg:     cfg,
		logger:  cfg.logger.New("self", self.ID.Short()),

		provisional: make(map[string]NodeID),
		retired:     make(map[NodeID]struct{}),
	}
	n.RoutingTable = NewRoutingTable(self, cfg.k, n.Ping, n.logger)
	return n
}

// Listen binds a UDP socket on address:port and starts serving. Unless
// WithNodeID is given the id is the digest of the bound "ip:port".
func Listen(address string, port int, opts ...Option) (*Node, error) {
	udp, err := NewNetwork(net.JoinHostPort(address, strconv.Itoa(port)), NodeID{}, opts...)
	if err != nil {
		return nil, err
	}
	local := udp.LocalAddr()
	ip := address
	if ip == "" {
		ip = local.IP.String()
	}
	self := Contact{
		ID:   id_tools.FromAddress(ip, local.Port),
		IP:   ip,
		Port: uint16(local.Port),
	}

	n := NewNode(self, udp, opts...)
	n.udp = udp
	udp.SetSelf(n.Self.ID)
	udp.SetHandler(n)
	go udp.Listen()

	n.logger.Info("Node listening", "id", n.Self.ID, "addr", n.Self.Addr())
	return n, nil
}

// SelfContact returns how this node presents itself to peers.
func (n *Node) SelfContact() Contact {
	return n.Self
}

// PendingRPCs reports requests still waiting for a reply.
func (n *Node) PendingRPCs() int {
	if n.udp == nil {
		return 0
	}
	return n.udp.PendingCount()
}

func (n *Node) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	n.logger.Info("Node closing")
	if n.udp != nil {
		return n.udp.Close()
	}
	return nil
}

// Ping checks c for liveness. The network applies the ping timeout.
func (n *Node) Ping(ctx context.Context, c Contact) error {
	return n.Network.SendPing(ctx, c)
}

// Join inserts bootstrap into the routing table and looks up our own id so
// the neighbourhood fills in. A bootstrap without an id gets the one
// derived from its address; that entry is replaced once the bootstrap
// answers with a different id.
func (n *Node) Join(ctx context.Context, bootstrap Contact) error {
	derived := id_tools.FromAddress(bootstrap.IP, int(bootstrap.Port))
	if bootstrap.ID.IsZero() {
		bootstrap.ID = derived
	}
	if bootstrap.ID == derived {
		n.markProvisional(bootstrap)
	}
	n.RoutingTable.UpdateWait(bootstrap)
	n.logger.Info("Joining network", "bootstrap", bootstrap)

	found, err := n.NodeLookup(ctx, n.Self.ID)
	if err != nil {
		return fmt.Errorf("join via %s: %w", bootstrap, err)
	}
	if len(found) == 0 {
		return fmt.Errorf("join via %s: %w", bootstrap, ErrNoContacts)
	}
	n.RoutingTable.UpdateAll(n.withoutRetired(found))

	n.logger.Info("Joined network", "found", len(found), "known", n.RoutingTable.Len())
	return nil
}

func (n *Node) markProvisional(c Contact) {
	addr, err := c.UDPAddr()
	if err != nil {
		return
	}
	n.mutex.Lock()
	n.provisional[addr.String()] = c.ID
	n.mutex.Unlock()
}

// confirmSender settles a provisional bootstrap entry once a datagram from
// its address reveals the real id. A mismatching guess leaves the table.
func (n *Node) confirmSender(sender Contact, from *net.UDPAddr) {
	n.mutex.Lock()
	if len(n.provisional) == 0 {
		n.mutex.Unlock()
		return
	}
	guessed, ok := n.provisional[from.String()]
	if ok {
		delete(n.provisional, from.String())
		if guessed != sender.ID {
			n.retired[guessed] = struct{}{}
		}
	}
	n.mutex.Unlock()

	if ok && guessed != sender.ID {
		n.logger.Debug("Bootstrap id differs from its address id", "guessed", guessed.Short(), "real", sender.ID.Short())
		n.RoutingTable.Remove(guessed)
	}
}

func (n *Node) withoutRetired(contacts []Contact) []Contact {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	if len(n.retired) == 0 {
		return contacts
	}
	kept := contacts[:0:0]
	for _, c := range contacts {
		if _, gone := n.retired[c.ID]; !gone {
			kept = append(kept, c)
		}
	}
	return kept
}

// FindNode returns the K contacts closest to target the network knows of.
func (n *Node) FindNode(ctx context.Context, target NodeID) ([]Contact, error) {
	return n.NodeLookup(ctx, target)
}

// Store replicates value to the K nodes closest to the key, α at a time.
// A failing peer is logged and skipped; Store fails only if nobody
// accepted the value.
func (n *Node) Store(ctx context.Context, key string, value []byte) error {
	target := id_tools.KeyID(key)
	nodes, err := n.NodeLookup(ctx, target)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("store %q: %w", key, ErrNoContacts)
	}

	var stored atomic.Int32
	for _, batch := range batches(nodes, n.cfg.alpha) {
		var g errgroup.Group
		for _, c := range batch {
			c := c
			g.Go(func() error {
				if err := n.Network.SendStore(ctx, c, key, value); err != nil {
					n.logger.Warn("STORE failed", "key", key, "peer", c, "err", err)
					return err
				}
				stored.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			n.logger.Debug("STORE batch had failures", "key", key, "size", len(batch))
		}
	}

	if stored.Load() == 0 {
		return fmt.Errorf("store %q: every peer failed", key)
	}
	n.logger.Debug("Stored value", "key", key, "replicas", stored.Load())
	return nil
}

// FindValue looks for key locally, then asks the nodes closest to it in
// batches of α. The first value returned wins.
func (n *Node) FindValue(ctx context.Context, key string) ([]byte, error) {
	if value, err := n.Storage.Get(key); err == nil {
		return value, nil
	}

	nodes, err := n.NodeLookup(ctx, id_tools.KeyID(key))
	if err != nil {
		return nil, err
	}

	for _, batch := range batches(nodes, n.cfg.alpha) {
		if value, ok := n.findValueBatch(ctx, key, batch); ok {
			return value, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("find %q: %w", key, ErrNotFound)
}

func (n *Node) findValueBatch(ctx context.Context, key string, batch []Contact) ([]byte, bool) {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once  sync.Once
		value []byte
		found bool
		g     errgroup.Group
	)
	for _, c := range batch {
		c := c
		g.Go(func() error {
			result, err := n.Network.SendFindValue(batchCtx, c, key)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					n.logger.Debug("FIND_VALUE failed", "key", key, "peer", c, "err", err)
				}
				return nil
			}
			if result.Found {
				once.Do(func() {
					value, found = result.Value, true
					cancel()
				})
			}
			return nil
		})
	}
	g.Wait()
	return value, found
}

func batches(contacts []Contact, size int) [][]Contact {
	if size < 1 {
		size = 1
	}
	var out [][]Contact
	for start := 0; start < len(contacts); start += size {
		end := min(start+size, len(contacts))
		out = append(out, contacts[start:end])
	}
	return out
}
