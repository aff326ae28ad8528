// Package data implements containers for batched multi-agent
// transition data
package data

import (
	"gonum.org/v1/gonum/mat"
)

// Transition packages together a single timestep of agent-environment
// interaction in a multi-agent environment. The AgentID field tags the
// observation with the agent that produced it. Agent IDs start at 1;
// ID 0 is reserved for the dispatching policy manager.
type Transition struct {
	Obs     mat.Vector
	AgentID int
	Act     mat.Vector

	// Rew holds one reward entry per agent. A nil Rew means the
	// reward is not yet known, for example directly after an
	// environmental reset.
	Rew mat.Vector

	NextObs mat.Vector
	Done    bool

	// Info holds named auxiliary values recorded with the transition
	Info map[string]float64
}
