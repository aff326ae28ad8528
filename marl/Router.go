package marl

import (
	"github.com/samuelfneumann/gomarl/data"
)

// partition returns the positions in agentIDs whose tag equals
// agentID, preserving the original order. An empty partition returns
// a nil slice.
func partition(agentIDs []int, agentID int) []int {
	var indices []int
	for i, id := range agentIDs {
		if id == agentID {
			indices = append(indices, i)
		}
	}
	return indices
}

// Partition splits a batch into per-agent index subsequences by its
// agent tags. The returned mapping has one entry per registered
// policy; an empty index set is an explicit, valid outcome for a
// policy with no matching transitions. Transitions whose tag matches
// no registered policy appear in no partition.
func (m *Manager) Partition(b *data.Batch) map[int][]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	partitions := make(map[int][]int, len(m.policies))
	for _, p := range m.policies {
		id := p.AgentID()
		indices := partition(b.AgentID, id)
		if indices == nil {
			indices = []int{}
		}
		partitions[id] = indices
	}
	return partitions
}
