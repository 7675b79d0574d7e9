package dht

import (
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/kutluhann/kademlia-dht/id_tools"
)

type NodeID = id_tools.PeerID

// Contact is a peer's id plus the address it was last seen at. Two contacts
// are the same peer iff their ids match.
type Contact struct {
	ID   NodeID `json:"nodeId"`
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

func NewContact(id NodeID, ip string, port uint16) Contact {
	return Contact{ID: id, IP: ip, Port: port}
}

// ContactFromAddress builds a contact whose id is derived from "ip:port".
func ContactFromAddress(address string) (Contact, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Contact{}, fmt.Errorf("invalid address %q: %w", address, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Contact{}, fmt.Errorf("invalid port in %q: %w", address, err)
	}
	return Contact{
		ID:   id_tools.FromAddress(host, int(port)),
		IP:   host,
		Port: uint16(port),
	}, nil
}

func (c Contact) Addr() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(int(c.Port)))
}

func (c Contact) UDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", c.Addr())
}

func (c Contact) String() string {
	return fmt.Sprintf("%s@%s", c.ID.Short(), c.Addr())
}

// sortByDistance orders contacts closest-first to target. Ties keep their
// insertion order.
func sortByDistance(contacts []Contact, target NodeID) {
	sort.SliceStable(contacts, func(i, j int) bool {
		return id_tools.CompareDistance(contacts[i].ID, contacts[j].ID, target) < 0
	})
}
