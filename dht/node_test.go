package dht

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/kutluhann/kademlia-dht/id_tools"
)

func listenTest(t *testing.T, opts ...Option) *Node {
	t.Helper()
	node, err := Listen("127.0.0.1", 0, opts...)
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { node.Close() })
	return node
}

func joinTest(t *testing.T, node *Node, bootstrap *Node) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := node.Join(ctx, bootstrap.SelfContact()); err != nil {
		t.Fatalf("join failed: %v", err)
	}
}

// TestListenDerivesID checks the id comes from the bound address.
func TestListenDerivesID(t *testing.T) {
	node := listenTest(t)
	self := node.SelfContact()
	if self.Port == 0 {
		t.Fatal("port not resolved")
	}
	if want := id_tools.FromAddress(self.IP, int(self.Port)); self.ID != want {
		t.Fatalf("id %s, want %s", self.ID, want)
	}
}

// TestTwoNodeStoreAndFind stores on one node and reads it from both.
func TestTwoNodeStoreAndFind(t *testing.T) {
	a := listenTest(t)
	b := listenTest(t)
	joinTest(t, b, a)

	waitUntil(t, 2*time.Second, func() bool { return a.RoutingTable.Contains(b.Self.ID) })
	if !b.RoutingTable.Contains(a.Self.ID) {
		t.Fatal("joiner does not know its bootstrap")
	}

	ctx := context.Background()
	value := []byte("hello world")
	if err := b.Store(ctx, "greeting", value); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if !a.Storage.Has("greeting") {
		t.Fatal("value was not replicated to the peer")
	}

	for name, node := range map[string]*Node{"a": a, "b": b} {
		got, err := node.FindValue(ctx, "greeting")
		if err != nil {
			t.Fatalf("%s: find failed: %v", name, err)
		}
		if !bytes.Equal(got, value) {
			t.Fatalf("%s: got %q want %q", name, got, value)
		}
	}
	if a.PendingRPCs() != 0 || b.PendingRPCs() != 0 {
		t.Fatal("requests left pending")
	}
}

// TestFindValueMissing returns ErrNotFound for a key nobody stored.
func TestFindValueMissing(t *testing.T) {
	a := listenTest(t)
	b := listenTest(t)
	joinTest(t, b, a)

	_, err := b.FindValue(context.Background(), "zz99")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// TestPingUnreachable times out against a closed port.
func TestPingUnreachable(t *testing.T) {
	node := listenTest(t, WithPingTimeout(50*time.Millisecond))

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	dead := Contact{ID: id_tools.FromAddress("127.0.0.1", port), IP: "127.0.0.1", Port: uint16(port)}

	start := time.Now()
	err = node.Ping(context.Background(), dead)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("ping took %v", elapsed)
	}
	if node.PendingRPCs() != 0 {
		t.Fatalf("pending map not empty: %d", node.PendingRPCs())
	}
}

// TestDispatcherSurvivesGarbage sends malformed datagrams and checks the
// node still answers afterwards.
func TestDispatcherSurvivesGarbage(t *testing.T) {
	a := listenTest(t)
	b := listenTest(t)

	conn, err := net.DialUDP("udp", nil, a.udp.LocalAddr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	junk := []string{
		"",
		"{",
		`{"type":"PING"}`,
		`{"type":"PING","rpcId":"x1"}`,
		`{"type":"NOPE","rpcId":"1","nodeId":"00"}`,
	}
	for _, datagram := range junk {
		conn.Write([]byte(datagram))
	}

	if err := b.Ping(context.Background(), a.SelfContact()); err != nil {
		t.Fatalf("ping after garbage failed: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool { return a.RoutingTable.Contains(b.Self.ID) })
	if a.RoutingTable.Contains(NodeID{}) {
		t.Fatal("a sender without nodeId was added to the routing table")
	}
	if a.RoutingTable.Len() != 1 {
		t.Fatalf("expected only the real peer, table has %d", a.RoutingTable.Len())
	}

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 1024)
	if n, err := conn.Read(buf); err == nil {
		t.Fatalf("garbage was answered: %s", buf[:n])
	}
}

// TestFindValueReplyIsPlainString checks the value travels as a JSON string
// and not as base64.
func TestFindValueReplyIsPlainString(t *testing.T) {
	a := listenTest(t)
	if err := a.Storage.Put("greeting", []byte("hello")); err != nil {
		t.Fatal(err)
	}

	conn, err := net.DialUDP("udp", nil, a.udp.LocalAddr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	asker := id_tools.Digest([]byte("asker"))
	req, err := EncodeMessage(FIND_VALUE, "r1", asker, FindValueRequest{Key: "greeting"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(req); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("no reply: %v", err)
	}
	msg, _, err := DecodeMessage(buf[:n])
	if err != nil {
		t.Fatalf("bad reply: %v", err)
	}
	if msg.Type != REPLY || msg.RPCID != "r1" {
		t.Fatalf("unexpected reply %+v", msg)
	}
	if string(msg.Data) != `"hello"` {
		t.Fatalf("value sent as %s", msg.Data)
	}
}

// TestStoreWithoutPeers fails when the table is empty.
func TestStoreWithoutPeers(t *testing.T) {
	node := listenTest(t)
	if err := node.Store(context.Background(), "k", []byte("v")); !errors.Is(err, ErrNoContacts) {
		t.Fatalf("expected ErrNoContacts, got %v", err)
	}
}

// TestStoreOnMemNetwork replicates to the nodes closest to the key and
// reads the value back through the network.
func TestStoreOnMemNetwork(t *testing.T) {
	_, nodes := buildNetwork(t, 10)
	ctx := context.Background()
	origin := nodes[0]
	if err := origin.Store(ctx, "song.mp3", []byte("la la")); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	holders := 0
	for _, n := range nodes {
		if n.Storage.Has("song.mp3") {
			holders++
		}
	}
	if holders == 0 || holders > origin.cfg.k {
		t.Fatalf("unexpected replica count %d", holders)
	}
	if origin.Storage.Has("song.mp3") {
		t.Fatal("store must not keep a copy on the origin")
	}

	got, err := origin.FindValue(ctx, "song.mp3")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if string(got) != "la la" {
		t.Fatalf("got %q", got)
	}
}

func TestBatches(t *testing.T) {
	contacts := make([]Contact, 7)
	got := batches(contacts, 3)
	if len(got) != 3 || len(got[0]) != 3 || len(got[2]) != 1 {
		t.Fatalf("unexpected batches %v", got)
	}
	if len(batches(nil, 3)) != 0 {
		t.Fatal("empty input should give no batches")
	}
}

// TestJoinLearnsBootstrapID joins through an address whose derived id is
// not the bootstrap's real id.
func TestJoinLearnsBootstrapID(t *testing.T) {
	realID := id_tools.RandomPeerID()
	a := listenTest(t, WithNodeID(realID))
	b := listenTest(t)

	guess, err := ContactFromAddress(a.Self.Addr())
	if err != nil {
		t.Fatal(err)
	}
	if guess.ID == realID {
		t.Fatal("derived id collides with the configured one")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Join(ctx, guess); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		return b.RoutingTable.Contains(realID) && !b.RoutingTable.Contains(guess.ID)
	})
	if b.RoutingTable.Len() != 1 {
		t.Fatalf("expected one contact, table has %d", b.RoutingTable.Len())
	}
}
