package marl

import (
	"fmt"
	"strconv"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gomarl/data"
)

// Manager dispatches batched multi-agent transition data to a
// registry of per-agent policies. An incoming batch is partitioned by
// its agent tags, each slice is delegated to the policy registered
// under that tag, and the per-agent results are merged back together:
// positionally for action selection and exploration noise, keyed by
// agent for transition pre-processing and learning.
//
// A Manager itself satisfies Policy, so a Manager can be registered
// as a sub-policy of another Manager.
type Manager struct {
	mu       sync.RWMutex
	policies []Policy
	agentID  int
}

// Compile-time interface satisfaction check
var _ Policy = (*Manager)(nil)

// NewManager creates a Manager dispatching to the argument policies.
// Each policy is assigned the agent ID equal to its position in the
// list + 1; agent ID 0 is reserved for the Manager itself.
func NewManager(policies ...Policy) (*Manager, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("newmanager: at least one policy required")
	}
	registry := make([]Policy, len(policies))
	copy(registry, policies)
	for i, p := range registry {
		p.SetAgentID(i + 1)
	}
	return &Manager{policies: registry}, nil
}

// ReplacePolicy overwrites the registry slot for the argument agent
// ID with p and assigns p that agent ID. An out-of-range agent ID is
// an error and leaves the registry unchanged. ReplacePolicy is atomic
// with respect to concurrent dispatch calls.
func (m *Manager) ReplacePolicy(p Policy, agentID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if agentID < 1 || agentID > len(m.policies) {
		return fmt.Errorf("replacepolicy: agent id %v out of range [1, %v]",
			agentID, len(m.policies))
	}
	m.policies[agentID-1] = p
	p.SetAgentID(agentID)
	return nil
}

// NumPolicies returns the number of registered policies
func (m *Manager) NumPolicies() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.policies)
}

// SelectAction dispatches each per-agent slice of b to its policy's
// SelectAction and reassembles the per-agent actions positionally:
// the returned Forward's Act has one row per transition in b, and row
// i holds the action computed for the transition at position i. The
// state parameter holds each policy's prior internal state in its
// agent group; a nil state means no policy has prior state.
//
// The Forward's State and Out hold one agent group per registered
// policy. Policies with no matching transitions contribute explicit
// empty groups and no action rows.
//
// Rows of b whose agent tag matches no registered policy are silently
// excluded from dispatch and left zero in the returned Act.
func (m *Manager) SelectAction(b *data.Batch,
	state *data.Batch) (*Forward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	actions := newPositionalMerger(b.Len())
	states := newKeyedMerger()
	outs := newKeyedMerger()

	for _, p := range m.policies {
		id := p.AgentID()
		indices := partition(b.AgentID, id)
		if len(indices) == 0 {
			states.add(id, nil)
			outs.add(id, nil)
			continue
		}

		sub, err := b.Slice(indices)
		if err != nil {
			return nil, err
		}
		// This path concerns the ephemeral caller batch only; the
		// buffer's reward field is untouched here.
		if multiAgentRew(sub.Rew) {
			col, err := scalarColumn(sub.Rew, id)
			if err != nil {
				return nil, err
			}
			sub.Rew = col
		}

		prior := state.Group(GroupKey(id))
		if prior.IsEmpty() {
			prior = nil
		}

		forward, err := p.SelectAction(sub, prior)
		if err != nil {
			return nil, err
		}
		if err := actions.scatter(indices, forward.Act); err != nil {
			return nil, err
		}
		states.add(id, forward.State)
		outs.add(id, forward.Out)
	}

	return &Forward{
		Act:   actions.merged(),
		State: states.merged(),
		Out:   outs.merged(),
	}, nil
}

// ProcessTransitions dispatches each per-agent slice of b, along with
// the matching buffer indices, to its policy's ProcessTransitions.
// Results are not reassembled positionally: the returned batch holds
// one agent group per registered policy, each group holding that
// policy's result whole. Policies with no matching transitions are
// not called and receive explicit empty groups.
//
// While each policy runs, the buffer's multi-agent reward matrix is
// swapped for that agent's scalar column; the original matrix is
// restored before the next policy runs and before any error
// propagates.
func (m *Manager) ProcessTransitions(b *data.Batch, buf Buffer,
	indices []int) (*data.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if indices != nil && len(indices) != b.Len() {
		return nil, fmt.Errorf("processtransitions: have %v indices for "+
			"%v transitions", len(indices), b.Len())
	}

	results := newKeyedMerger()
	view := newRewardView(buf)
	defer view.restore()

	for _, p := range m.policies {
		id := p.AgentID()
		agentIndices := partition(b.AgentID, id)
		if len(agentIndices) == 0 {
			results.add(id, nil)
			continue
		}

		sub, err := b.Slice(agentIndices)
		if err != nil {
			return nil, err
		}
		var subIndices []int
		if indices != nil {
			subIndices = make([]int, len(agentIndices))
			for j, i := range agentIndices {
				subIndices[j] = indices[i]
			}
		}

		result, err := delegateProcess(p, sub, buf, subIndices, view)
		if err != nil {
			return nil, err
		}
		results.add(id, result)
	}
	return results.merged(), nil
}

// delegateProcess runs one policy's ProcessTransitions under the
// reward view. The buffer's reward field holds the policy's scalar
// column for exactly the duration of the call: the view is restored
// on every exit path, including a failed delegation.
func delegateProcess(p Policy, sub *data.Batch, buf Buffer,
	indices []int, view *rewardView) (*data.Batch, error) {
	if view.active() {
		if err := view.swap(p.AgentID()); err != nil {
			return nil, err
		}
		defer view.restore()

		if multiAgentRew(sub.Rew) {
			col, err := scalarColumn(sub.Rew, p.AgentID())
			if err != nil {
				return nil, err
			}
			sub.Rew = col
		}
	}
	return p.ProcessTransitions(sub, buf, indices)
}

// ExplorationNoise dispatches each per-agent slice of act and b to
// its policy's ExplorationNoise and scatters the modified actions
// back into act at the same positions. The act container is mutated
// in place and returned. Policies with no matching transitions are
// skipped.
func (m *Manager) ExplorationNoise(act *mat.Dense,
	b *data.Batch) (*mat.Dense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.policies {
		indices := partition(b.AgentID, p.AgentID())
		if len(indices) == 0 {
			continue
		}

		sub, err := b.Slice(indices)
		if err != nil {
			return nil, err
		}
		subAct, err := gatherRows(act, indices)
		if err != nil {
			return nil, err
		}

		noised, err := p.ExplorationNoise(subAct, sub)
		if err != nil {
			return nil, err
		}
		if err := scatterRows(act, indices, noised); err != nil {
			return nil, err
		}
	}
	return act, nil
}

// Learn dispatches each registered policy's agent group of b to that
// policy's Learn. Every metric the policy reports is re-keyed as
// "<agentId>/<metricName>" and merged into a single flat mapping.
// Policies whose group is absent or empty are skipped entirely: no
// update is performed and no metric keys are emitted for them.
func (m *Manager) Learn(b *data.Batch) (map[string]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]float64)
	for _, p := range m.policies {
		id := p.AgentID()
		group := b.Group(GroupKey(id))
		if group.IsEmpty() {
			continue
		}

		metrics, err := p.Learn(group)
		if err != nil {
			return nil, err
		}
		for name, value := range metrics {
			results[strconv.Itoa(id)+"/"+name] = value
		}
	}
	return results, nil
}

// AgentID returns the Manager's own agent ID: 0 unless the Manager
// has been registered as a sub-policy of another Manager
func (m *Manager) AgentID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.agentID
}

// SetAgentID assigns the Manager's own agent ID
func (m *Manager) SetAgentID(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agentID = id
}
