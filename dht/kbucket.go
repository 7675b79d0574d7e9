package dht

import (
	"context"
	"sync"

	"github.com/Arceliar/phony"
	"github.com/elliotchance/orderedmap/v2"
	"github.com/ethereum/go-ethereum/log"
)

// Pinger checks whether a contact is still alive.
type Pinger func(ctx context.Context, c Contact) error

// KBucket holds up to capacity contacts ordered from least to most recently
// seen. Mutations run on the bucket's inbox, one at a time, so an eviction
// ping never races with another update to the same bucket. Reads only take
// the mutex and never wait for a ping.
type KBucket struct {
	phony.Inbox
	index    int
	capacity int
	mutex    sync.RWMutex
	contacts *orderedmap.OrderedMap[NodeID, Contact]
}

func NewKBucket(index, capacity int) *KBucket {
	return &KBucket{
		index:    index,
		capacity: capacity,
		contacts: orderedmap.NewOrderedMap[NodeID, Contact](),
	}
}

// update applies the ping-or-replace policy. It must only run on the inbox.
// 1. Known contact -> move to tail (most recently seen).
// 2. Room left -> append.
// 3. Full -> ping the head; keep it if it answers, otherwise replace it.
func (kb *KBucket) update(c Contact, ping Pinger, logger log.Logger) {
	kb.mutex.Lock()
	if _, ok := kb.contacts.Get(c.ID); ok {
		kb.contacts.Delete(c.ID)
		kb.contacts.Set(c.ID, c)
		kb.mutex.Unlock()
		return
	}
	if kb.contacts.Len() < kb.capacity {
		kb.contacts.Set(c.ID, c)
		kb.mutex.Unlock()
		logger.Debug("Added contact", "b", kb.index, "id", c.ID.Short(), "addr", c.Addr())
		return
	}
	oldest := kb.contacts.Front().Value
	kb.mutex.Unlock()

	if ping == nil {
		return
	}
	if err := ping(context.Background(), oldest); err == nil {
		logger.Trace("Kept live contact, dropped newcomer", "b", kb.index, "id", oldest.ID.Short(), "new", c.ID.Short())
		return
	}

	kb.mutex.Lock()
	kb.contacts.Delete(oldest.ID)
	kb.contacts.Set(c.ID, c)
	kb.mutex.Unlock()
	logger.Debug("Replaced dead contact", "b", kb.index, "id", oldest.ID.Short(), "new", c.ID.Short())
}

// remove drops id from the bucket. It must only run on the inbox.
func (kb *KBucket) remove(id NodeID, logger log.Logger) {
	kb.mutex.Lock()
	removed := kb.contacts.Delete(id)
	kb.mutex.Unlock()
	if removed {
		logger.Debug("Removed contact", "b", kb.index, "id", id.Short())
	}
}

// GetContacts returns a copy of the bucket, least recently seen first.
func (kb *KBucket) GetContacts() []Contact {
	kb.mutex.RLock()
	defer kb.mutex.RUnlock()

	snapshot := make([]Contact, 0, kb.contacts.Len())
	for el := kb.contacts.Front(); el != nil; el = el.Next() {
		snapshot = append(snapshot, el.Value)
	}
	return snapshot
}

func (kb *KBucket) Contains(id NodeID) bool {
	kb.mutex.RLock()
	defer kb.mutex.RUnlock()
	_, ok := kb.contacts.Get(id)
	return ok
}

func (kb *KBucket) Len() int {
	kb.mutex.RLock()
	defer kb.mutex.RUnlock()
	return kb.contacts.Len()
}
