package dht

import (
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"

	"github.com/kutluhann/kademlia-dht/constants"
)

type config struct {
	k           int
	alpha       int
	rpcTimeout  time.Duration
	pingTimeout time.Duration
	logger      log.Logger
	clock       mclock.Clock
	nodeID      *NodeID
	sealer      Sealer
}

type Option func(*config)

func configDefaults() Option {
	return func(c *config) {
		c.k = constants.K
		c.alpha = constants.Alpha
		c.rpcTimeout = constants.DefaultRPCTimeout
		c.pingTimeout = constants.DefaultPingTimeout
		c.logger = log.Root()
		c.clock = mclock.System{}
	}
}

func newConfig(opts []Option) *config {
	c := new(config)
	configDefaults()(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithK sets the bucket capacity and the lookup result size.
func WithK(k int) Option {
	return func(c *config) {
		c.k = k
	}
}

// WithAlpha sets how many peers are asked in parallel per lookup round.
func WithAlpha(alpha int) Option {
	return func(c *config) {
		c.alpha = alpha
	}
}

func WithRPCTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.rpcTimeout = timeout
	}
}

func WithPingTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.pingTimeout = timeout
	}
}

func WithLogger(logger log.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithClock replaces the clock used for RPC deadlines.
func WithClock(clock mclock.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithNodeID fixes the local id instead of deriving it from the address.
func WithNodeID(id NodeID) Option {
	return func(c *config) {
		c.nodeID = &id
	}
}

// WithSealer encrypts stored blocks at rest.
func WithSealer(sealer Sealer) Option {
	return func(c *config) {
		c.sealer = sealer
	}
}
