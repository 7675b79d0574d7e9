package dht

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kutluhann/kademlia-dht/id_tools"
)

// memNetwork delivers requests straight to the handlers of other nodes in
// the same test. Nodes marked down behave like peers that never answer.
type memNetwork struct {
	mutex sync.Mutex
	nodes map[NodeID]*Node
	down  map[NodeID]bool
}

func newMemNetwork() *memNetwork {
	return &memNetwork{
		nodes: make(map[NodeID]*Node),
		down:  make(map[NodeID]bool),
	}
}

func (m *memNetwork) setDown(id NodeID, down bool) {
	m.mutex.Lock()
	m.down[id] = down
	m.mutex.Unlock()
}

func (m *memNetwork) peer(ctx context.Context, receiver Contact) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	node, ok := m.nodes[receiver.ID]
	if !ok || m.down[receiver.ID] {
		return nil, fmt.Errorf("%w: %s", ErrTimeout, receiver)
	}
	return node, nil
}

// memEndpoint is one node's view of a memNetwork.
type memEndpoint struct {
	net  *memNetwork
	self Contact
}

func (e *memEndpoint) SendPing(ctx context.Context, receiver Contact) error {
	_, err := e.net.peer(ctx, receiver)
	return err
}

func (e *memEndpoint) SendStore(ctx context.Context, receiver Contact, key string, value []byte) error {
	node, err := e.net.peer(ctx, receiver)
	if err != nil {
		return err
	}
	node.RoutingTable.UpdateWait(e.self)
	node.HandleStore(e.self, key, value)
	return nil
}

func (e *memEndpoint) SendFindNode(ctx context.Context, receiver Contact, target NodeID) ([]Contact, error) {
	node, err := e.net.peer(ctx, receiver)
	if err != nil {
		return nil, err
	}
	node.RoutingTable.UpdateWait(e.self)
	return node.HandleFindNode(e.self, target), nil
}

func (e *memEndpoint) SendFindValue(ctx context.Context, receiver Contact, key string) (FindValueResult, error) {
	node, err := e.net.peer(ctx, receiver)
	if err != nil {
		return FindValueResult{}, err
	}
	node.RoutingTable.UpdateWait(e.self)
	value, contacts, found := node.HandleFindValue(e.self, key)
	return FindValueResult{Found: found, Value: value, Contacts: contacts}, nil
}

// addNode creates a node reachable at 10.0.0.1:port on the memory network.
func (m *memNetwork) addNode(t *testing.T, port uint16, opts ...Option) *Node {
	t.Helper()
	self := Contact{ID: id_tools.FromAddress("10.0.0.1", int(port)), IP: "10.0.0.1", Port: port}
	endpoint := &memEndpoint{net: m, self: self}
	node := NewNode(self, endpoint, opts...)

	m.mutex.Lock()
	m.nodes[node.Self.ID] = node
	m.mutex.Unlock()
	return node
}

// buildNetwork starts size nodes; every node after the first joins via it.
func buildNetwork(t *testing.T, size int, opts ...Option) (*memNetwork, []*Node) {
	t.Helper()
	m := newMemNetwork()
	nodes := make([]*Node, size)
	for i := range nodes {
		nodes[i] = m.addNode(t, uint16(9000+i), opts...)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, node := range nodes[1:] {
		if err := node.Join(ctx, nodes[0].Self); err != nil {
			t.Fatalf("node %s failed to join: %v", node.Self, err)
		}
	}
	return m, nodes
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
