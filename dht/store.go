package dht

import (
	"fmt"
	"sort"
	"sync"

	ecies "github.com/ecies/go/v2"
)

// Sealer protects blocks while they sit in the content store.
type Sealer interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// ECIESSealer seals blocks to its own secp256k1 public key.
type ECIESSealer struct {
	key *ecies.PrivateKey
}

func NewECIESSealer(keyHex string) (*ECIESSealer, error) {
	key, err := ecies.NewPrivateKeyFromHex(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parsing storage key: %w", err)
	}
	return &ECIESSealer{key: key}, nil
}

func (s *ECIESSealer) Seal(plain []byte) ([]byte, error) {
	return ecies.Encrypt(s.key.PublicKey, plain)
}

func (s *ECIESSealer) Open(sealed []byte) ([]byte, error) {
	return ecies.Decrypt(s.key, sealed)
}

// ContentStore is the node's in-memory key/value map. Entries never expire.
type ContentStore struct {
	mutex  sync.RWMutex
	blocks map[string][]byte
	sealer Sealer
}

func NewContentStore(sealer Sealer) *ContentStore {
	return &ContentStore{
		blocks: make(map[string][]byte),
		sealer: sealer,
	}
}

func (s *ContentStore) Put(key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(value)
		if err != nil {
			return fmt.Errorf("sealing %q: %w", key, err)
		}
		stored = sealed
	}

	s.mutex.Lock()
	s.blocks[key] = stored
	s.mutex.Unlock()
	return nil
}

// Get returns a copy of the value stored under key, or ErrNotFound.
func (s *ContentStore) Get(key string) ([]byte, error) {
	s.mutex.RLock()
	stored, ok := s.blocks[key]
	s.mutex.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if s.sealer != nil {
		plain, err := s.sealer.Open(stored)
		if err != nil {
			return nil, fmt.Errorf("opening %q: %w", key, err)
		}
		return plain, nil
	}
	value := make([]byte, len(stored))
	copy(value, stored)
	return value, nil
}

func (s *ContentStore) Has(key string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.blocks[key]
	return ok
}

func (s *ContentStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.blocks)
}

// Keys lists stored keys in sorted order.
func (s *ContentStore) Keys() []string {
	s.mutex.RLock()
	keys := make([]string, 0, len(s.blocks))
	for k := range s.blocks {
		keys = append(keys, k)
	}
	s.mutex.RUnlock()
	sort.Strings(keys)
	return keys
}
