package dht

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/kutluhann/kademlia-dht/constants"
)

// Network is the outbound half of the protocol. The lookup engine and the
// store/find operations only use these methods, so they run the same over
// UDP or an in-memory network.
type Network interface {
	SendPing(ctx context.Context, receiver Contact) error
	SendStore(ctx context.Context, receiver Contact, key string, value []byte) error
	SendFindNode(ctx context.Context, receiver Contact, target NodeID) ([]Contact, error)
	SendFindValue(ctx context.Context, receiver Contact, key string) (FindValueResult, error)
}

// Handler receives every datagram read from the socket.
type Handler interface {
	HandleMessage(data []byte, from *net.UDPAddr)
}

// pendingRPC is a request waiting for its REPLY.
type pendingRPC struct {
	result chan json.RawMessage
}

// UDPNetwork owns the datagram socket and correlates replies with the
// requests waiting for them.
type UDPNetwork struct {
	conn        *net.UDPConn
	self        NodeID
	handler     Handler
	clock       mclock.Clock
	rpcTimeout  time.Duration
	pingTimeout time.Duration
	logger      log.Logger

	mutex   sync.Mutex
	pending map[string]*pendingRPC

	listening atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
	stopped   chan struct{}
}

// NewNetwork binds a UDP socket on addr. Reading starts with Listen.
func NewNetwork(addr string, self NodeID, opts ...Option) (*UDPNetwork, error) {
	cfg := newConfig(opts)
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &TransportError{Op: "resolve", Addr: addr, Err: err}
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, &TransportError{Op: "listen", Addr: addr, Err: err}
	}
	return &UDPNetwork{
		conn:        conn,
		self:        self,
		clock:       cfg.clock,
		rpcTimeout:  cfg.rpcTimeout,
		pingTimeout: cfg.pingTimeout,
		logger:      cfg.logger,
		pending:     make(map[string]*pendingRPC),
		closed:      make(chan struct{}),
		stopped:     make(chan struct{}),
	}, nil
}

func (n *UDPNetwork) SetHandler(handler Handler) {
	n.handler = handler
}

// SetSelf changes the id stamped on outgoing envelopes.
func (n *UDPNetwork) SetSelf(id NodeID) {
	n.self = id
}

func (n *UDPNetwork) LocalAddr() *net.UDPAddr {
	return n.conn.LocalAddr().(*net.UDPAddr)
}

// Listen reads datagrams until Close and hands each one to the handler.
// Only the first call reads; later calls return at once.
func (n *UDPNetwork) Listen() {
	if !n.listening.CompareAndSwap(false, true) {
		return
	}
	defer close(n.stopped)
	buf := make([]byte, constants.MaxDatagramSize)
	for {
		size, from, err := n.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-n.closed:
				return
			default:
			}
			n.logger.Warn("UDP read failed", "err", err)
			continue
		}
		if n.handler == nil {
			continue
		}
		data := make([]byte, size)
		copy(data, buf[:size])
		n.handler.HandleMessage(data, from)
	}
}

func (n *UDPNetwork) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.closed)
		err = n.conn.Close()
		if !n.listening.Load() {
			return
		}
		select {
		case <-n.stopped:
		case <-time.After(200 * time.Millisecond):
		}
	})
	return err
}

// PendingCount is the number of requests still waiting for a reply.
func (n *UDPNetwork) PendingCount() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return len(n.pending)
}

func newRPCID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func (n *UDPNetwork) send(receiver Contact, typ MessageType, rpcID string, payload interface{}) error {
	b, err := EncodeMessage(typ, rpcID, n.self, payload)
	if err != nil {
		return err
	}
	addr, err := receiver.UDPAddr()
	if err != nil {
		return &TransportError{Op: "resolve", Addr: receiver.Addr(), Err: err}
	}
	if _, err := n.conn.WriteToUDP(b, addr); err != nil {
		return &TransportError{Op: "send", Addr: receiver.Addr(), Err: err}
	}
	n.logger.Trace("Sent message", "type", typ, "rpc", rpcID, "to", receiver)
	return nil
}

// CallRPC sends a request and waits for the matching REPLY, the timeout, or
// ctx, whichever comes first. The pending entry is gone when it returns.
func (n *UDPNetwork) CallRPC(ctx context.Context, typ MessageType, receiver Contact, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	select {
	case <-n.closed:
		return nil, ErrClosed
	default:
	}

	rpcID := newRPCID()
	call := &pendingRPC{result: make(chan json.RawMessage, 1)}
	n.mutex.Lock()
	n.pending[rpcID] = call
	n.mutex.Unlock()
	defer n.forget(rpcID)

	if err := n.send(receiver, typ, rpcID, payload); err != nil {
		return nil, err
	}

	timer := n.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-call.result:
		return data, nil
	case <-timer.C():
		return nil, fmt.Errorf("%w: %s to %s after %v", ErrTimeout, typ, receiver, timeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s to %s: %w", ErrTimeout, typ, receiver, ctx.Err())
		}
		return nil, ctx.Err()
	case <-n.closed:
		return nil, ErrClosed
	}
}

// Reply answers a request. Replies are fire-and-forget.
func (n *UDPNetwork) Reply(receiver Contact, rpcID string, payload interface{}) error {
	return n.send(receiver, REPLY, rpcID, payload)
}

// Resolve hands a REPLY to the request waiting on rpcID. Late or unknown
// replies are dropped and reported as false.
func (n *UDPNetwork) Resolve(rpcID string, data json.RawMessage) bool {
	n.mutex.Lock()
	call, ok := n.pending[rpcID]
	delete(n.pending, rpcID)
	n.mutex.Unlock()
	if !ok {
		return false
	}
	call.result <- data
	return true
}

func (n *UDPNetwork) forget(rpcID string) {
	n.mutex.Lock()
	delete(n.pending, rpcID)
	n.mutex.Unlock()
}

func (n *UDPNetwork) SendPing(ctx context.Context, receiver Contact) error {
	_, err := n.CallRPC(ctx, PING, receiver, nil, n.pingTimeout)
	return err
}

func (n *UDPNetwork) SendStore(ctx context.Context, receiver Contact, key string, value []byte) error {
	_, err := n.CallRPC(ctx, STORE, receiver, StoreRequest{Key: key, Block: string(value)}, n.rpcTimeout)
	return err
}

func (n *UDPNetwork) SendFindNode(ctx context.Context, receiver Contact, target NodeID) ([]Contact, error) {
	data, err := n.CallRPC(ctx, FIND_NODE, receiver, FindNodeRequest{Target: &target}, n.rpcTimeout)
	if err != nil {
		return nil, err
	}
	return decodeContacts(data)
}

func (n *UDPNetwork) SendFindValue(ctx context.Context, receiver Contact, key string) (FindValueResult, error) {
	data, err := n.CallRPC(ctx, FIND_VALUE, receiver, FindValueRequest{Key: key}, n.rpcTimeout)
	if err != nil {
		return FindValueResult{}, err
	}
	return decodeFindValue(data)
}
