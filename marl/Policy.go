// Package marl implements dispatching of batched multi-agent
// transition data to a registry of per-agent policies
package marl

import (
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gomarl/data"
)

// Policy is the capability set a per-agent decision and learning
// component must implement for a Manager to dispatch to it.
//
// Each policy registered with a Manager is assigned a positive agent
// ID equal to its registry position + 1. A policy must report the
// last ID assigned with SetAgentID from AgentID. Agent ID 0 is
// reserved for the Manager itself.
type Policy interface {
	// SelectAction computes actions for a batch of observations. The
	// state parameter holds the policy's internal state from its
	// previous SelectAction call; a nil state means the policy has no
	// prior state.
	SelectAction(b *data.Batch, state *data.Batch) (*Forward, error)

	// ProcessTransitions pre-processes a batch of transitions before
	// learning, for example by computing returns from the buffer. The
	// indices parameter holds the position in buf of each transition
	// in b.
	ProcessTransitions(b *data.Batch, buf Buffer,
		indices []int) (*data.Batch, error)

	// Learn updates the policy from pre-processed transition data and
	// returns a mapping from metric name to metric value
	Learn(b *data.Batch) (map[string]float64, error)

	// ExplorationNoise adds exploration noise to actions computed for
	// a batch of observations, returning the modified actions
	ExplorationNoise(act *mat.Dense, b *data.Batch) (*mat.Dense, error)

	// AgentID returns the policy's assigned agent ID
	AgentID() int

	// SetAgentID assigns the policy's agent ID
	SetAgentID(id int)
}

// Forward is the result of action selection. For a Manager, State and
// Out hold one agent group per registered policy (see GroupKey), each
// group holding that policy's internal state and full output payload.
type Forward struct {
	Act   *mat.Dense  // one action row per input transition
	State *data.Batch // nil if the policy is stateless
	Out   *data.Batch // full output payload
}

// Buffer is the reward-bearing transition store consumed during
// transition pre-processing. The reward field must be independently
// replaceable and restorable without side effects on other fields.
type Buffer interface {
	// Rew returns the buffer's reward field: one row per stored
	// transition, with either a single column or one column per agent
	Rew() *mat.Dense

	// SetRew replaces the buffer's reward field
	SetRew(*mat.Dense)
}

// GroupKey returns the batch group name under which a Manager stores
// results belonging to the argument agent
func GroupKey(agentID int) string {
	return "agent_" + strconv.Itoa(agentID)
}
