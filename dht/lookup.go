package dht

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/kutluhann/kademlia-dht/id_tools"
)

// ---------------------------------------------------------
// LOOKUP STATE HELPER
// Manages the list of candidates during a search.
// ---------------------------------------------------------
type LookupState struct {
	Target    NodeID
	Shortlist []Contact           // Every node we know about in this search, closest first
	Contacted map[NodeID]Contact  // Nodes that answered
	Failed    map[NodeID]struct{} // Nodes that errored or timed out
	Closest   *Contact            // Best contact known so far, seeds included
	self      NodeID
	queried   map[NodeID]struct{}
}

func NewLookupState(target, self NodeID, initialNodes []Contact) *LookupState {
	state := &LookupState{
		Target:    target,
		Contacted: make(map[NodeID]Contact),
		Failed:    make(map[NodeID]struct{}),
		self:      self,
		queried:   make(map[NodeID]struct{}),
	}
	state.Append(initialNodes)
	return state
}

// Append merges contacts into the shortlist and reports whether any of
// them is closer to the target than the best contact so far. Contacts
// already on the shortlist are compared too.
func (ls *LookupState) Append(contacts []Contact) bool {
	improved := false
	for _, c := range contacts {
		if c.ID == ls.self {
			continue
		}
		if ls.Closest == nil || id_tools.CompareDistance(c.ID, ls.Closest.ID, ls.Target) < 0 {
			closest := c
			ls.Closest = &closest
			improved = true
		}
		if !ls.inShortlist(c.ID) {
			ls.Shortlist = append(ls.Shortlist, c)
		}
	}
	sortByDistance(ls.Shortlist, ls.Target)
	return improved
}

func (ls *LookupState) inShortlist(id NodeID) bool {
	for _, existing := range ls.Shortlist {
		if existing.ID == id {
			return true
		}
	}
	return false
}

// NextRound picks the alpha closest shortlist entries nobody has asked yet
// and marks them as asked.
func (ls *LookupState) NextRound(alpha int) []Contact {
	var round []Contact
	for _, c := range ls.Shortlist {
		if len(round) == alpha {
			break
		}
		if _, asked := ls.queried[c.ID]; asked {
			continue
		}
		ls.queried[c.ID] = struct{}{}
		round = append(round, c)
	}
	return round
}

// Result returns up to k contacted nodes, closest first.
func (ls *LookupState) Result(k int) []Contact {
	result := make([]Contact, 0, len(ls.Contacted))
	for _, c := range ls.Shortlist {
		if _, ok := ls.Contacted[c.ID]; ok {
			result = append(result, c)
		}
	}
	if len(result) > k {
		return result[:k]
	}
	return result
}

// ---------------------------------------------------------
// THE NodeLookup algorithm (Iterative Node Lookup)
// ---------------------------------------------------------

// NodeLookup finds the K nodes closest to target. Each round asks α peers
// in parallel and waits for all of them before the next round starts. The
// search stops when the shortlist runs dry, a round brings nothing closer,
// or K peers have answered.
func (n *Node) NodeLookup(ctx context.Context, target NodeID) ([]Contact, error) {
	state, err := n.lookup(ctx, target)
	if state == nil {
		return nil, err
	}
	return state.Result(n.cfg.k), err
}

func (n *Node) lookup(ctx context.Context, target NodeID) (*LookupState, error) {
	seeds := n.RoutingTable.FindClosest(target, n.cfg.alpha)
	if len(seeds) == 0 {
		return nil, ErrNoContacts
	}
	state := NewLookupState(target, n.Self.ID, seeds)

	type answer struct {
		contacts []Contact
		err      error
	}

	for round := 0; ; round++ {
		batch := state.NextRound(n.cfg.alpha)
		if len(batch) == 0 {
			break
		}

		answers := make([]answer, len(batch))
		var g errgroup.Group
		for i, c := range batch {
			i, c := i, c
			g.Go(func() error {
				contacts, err := n.Network.SendFindNode(ctx, c, target)
				answers[i] = answer{contacts: contacts, err: err}
				return nil
			})
		}
		g.Wait()

		improved := false
		for i, c := range batch {
			if answers[i].err != nil {
				state.Failed[c.ID] = struct{}{}
				n.logger.Debug("FIND_NODE failed", "peer", c, "err", answers[i].err)
				continue
			}
			state.Contacted[c.ID] = c
			if state.Append(answers[i].contacts) {
				improved = true
			}
		}
		n.logger.Trace("Lookup round", "target", target.Short(), "round", round,
			"asked", len(batch), "contacted", len(state.Contacted), "improved", improved)

		if !improved || len(state.Contacted) >= n.cfg.k {
			break
		}
	}
	return state, ctx.Err()
}
