package dht

import (
	"sort"
	"sync"

	"github.com/Arceliar/phony"
	"github.com/ethereum/go-ethereum/log"

	"github.com/kutluhann/kademlia-dht/constants"
)

// RoutingTable maps bucket indices (0..159) to k-buckets, created lazily.
// Bucket i holds contacts whose distance from us is in [2^i, 2^(i+1)).
//   - Bucket 0:   Distance [2^0, 2^1)     (Closest nodes)
//   - Bucket 159: Distance [2^159, 2^160) (Furthest nodes)
type RoutingTable struct {
	self    Contact
	k       int
	ping    Pinger
	logger  log.Logger
	mutex   sync.RWMutex
	buckets map[int]*KBucket
}

func NewRoutingTable(self Contact, k int, ping Pinger, logger log.Logger) *RoutingTable {
	if logger == nil {
		logger = log.Root()
	}
	return &RoutingTable{
		self:    self,
		k:       k,
		ping:    ping,
		logger:  logger,
		buckets: make(map[int]*KBucket),
	}
}

func (rt *RoutingTable) GetBucketIndex(id NodeID) int {
	return rt.self.ID.BucketIndex(id)
}

func (rt *RoutingTable) bucket(index int, create bool) *KBucket {
	rt.mutex.RLock()
	b, ok := rt.buckets[index]
	rt.mutex.RUnlock()
	if ok || !create {
		return b
	}

	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	if b, ok = rt.buckets[index]; !ok {
		b = NewKBucket(index, rt.k)
		rt.buckets[index] = b
	}
	return b
}

// Update queues c on its bucket and returns without waiting, so a pending
// eviction ping never stalls the caller. It returns the bucket it queued on,
// or nil when c is ourselves.
func (rt *RoutingTable) Update(c Contact) *KBucket {
	if c.ID == rt.self.ID {
		return nil
	}
	b := rt.bucket(rt.GetBucketIndex(c.ID), true)
	b.Act(nil, func() {
		b.update(c, rt.ping, rt.logger)
	})
	return b
}

// Remove queues the removal of id on its bucket. Like Update it does not
// wait for a pending eviction ping.
func (rt *RoutingTable) Remove(id NodeID) {
	b := rt.bucket(rt.GetBucketIndex(id), false)
	if b == nil {
		return
	}
	b.Act(nil, func() {
		b.remove(id, rt.logger)
	})
}

// UpdateWait is Update followed by waiting for the bucket to apply it.
func (rt *RoutingTable) UpdateWait(c Contact) {
	rt.UpdateAll([]Contact{c})
}

// UpdateAll queues every contact and waits until all touched buckets have
// applied their updates.
func (rt *RoutingTable) UpdateAll(contacts []Contact) {
	touched := make(map[*KBucket]struct{})
	for _, c := range contacts {
		if b := rt.Update(c); b != nil {
			touched[b] = struct{}{}
		}
	}
	for b := range touched {
		phony.Block(b, func() {})
	}
}

// FindClosest returns up to count contacts closest to target, never target
// itself. It starts at target's bucket and spreads out below and above
// until enough contacts are collected.
func (rt *RoutingTable) FindClosest(target NodeID, count int) []Contact {
	if count <= 0 {
		return nil
	}
	var candidates []Contact
	collect := func(index int) {
		b := rt.bucket(index, false)
		if b == nil {
			return
		}
		for _, c := range b.GetContacts() {
			if c.ID != target {
				candidates = append(candidates, c)
			}
		}
	}

	index := rt.GetBucketIndex(target)
	collect(index)
	for i := 1; len(candidates) < count && (index-i >= 0 || index+i < constants.IDBits); i++ {
		if index+i < constants.IDBits {
			collect(index + i)
		}
		if index-i >= 0 {
			collect(index - i)
		}
	}

	sortByDistance(candidates, target)
	if len(candidates) > count {
		return candidates[:count]
	}
	return candidates
}

func (rt *RoutingTable) Contains(id NodeID) bool {
	b := rt.bucket(rt.GetBucketIndex(id), false)
	return b != nil && b.Contains(id)
}

// Len returns the number of contacts across all buckets.
func (rt *RoutingTable) Len() int {
	total := 0
	for _, contacts := range rt.Buckets() {
		total += len(contacts)
	}
	return total
}

// Buckets snapshots every non-empty bucket.
func (rt *RoutingTable) Buckets() map[int][]Contact {
	rt.mutex.RLock()
	buckets := make(map[int]*KBucket, len(rt.buckets))
	for i, b := range rt.buckets {
		buckets[i] = b
	}
	rt.mutex.RUnlock()

	out := make(map[int][]Contact, len(buckets))
	for i, b := range buckets {
		if contacts := b.GetContacts(); len(contacts) > 0 {
			out[i] = contacts
		}
	}
	return out
}

// BucketIndices lists the indices of non-empty buckets in ascending order.
func (rt *RoutingTable) BucketIndices() []int {
	var indices []int
	for i := range rt.Buckets() {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices
}
