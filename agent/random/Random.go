// Package random implements a policy that selects actions uniformly
// randomly from a bounded continuous action space
package random

import (
	"fmt"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/samuelfneumann/gomarl/data"
	"github.com/samuelfneumann/gomarl/marl"
	"github.com/samuelfneumann/gomarl/utils/floatutils"
)

// Config represents a configuration for creating a random Policy
type Config struct {
	ActionDims int
	MinAction  float64
	MaxAction  float64

	// NoiseStdDev is the standard deviation of the Gaussian
	// exploration noise added to actions. A zero value disables
	// exploration noise.
	NoiseStdDev float64
}

// Validate returns an error describing whether or not the
// configuration is valid
func (c Config) Validate() error {
	if c.ActionDims < 1 {
		return fmt.Errorf("validate: ActionDims must be >= 1")
	}
	if c.MinAction >= c.MaxAction {
		return fmt.Errorf("validate: MinAction (%v) must be < MaxAction "+
			"(%v)", c.MinAction, c.MaxAction)
	}
	if c.NoiseStdDev < 0 {
		return fmt.Errorf("validate: NoiseStdDev must be >= 0")
	}
	return nil
}

// Create creates the random Policy that the Config describes
func (c Config) Create(seed uint64) (*Policy, error) {
	return New(c, seed)
}

// Policy selects each action dimension uniformly randomly within the
// configured action bounds. It never carries internal state between
// action selections and performs no learning update.
type Policy struct {
	config  Config
	agentID int

	actionDist distuv.Uniform
	noiseDist  *distuv.Normal
}

// Compile-time interface satisfaction check
var _ marl.Policy = (*Policy)(nil)

// New constructs a new random Policy
func New(config Config, seed uint64) (*Policy, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	source := rand.NewSource(seed)
	actionDist := distuv.Uniform{
		Min: config.MinAction,
		Max: config.MaxAction,
		Src: source,
	}

	var noiseDist *distuv.Normal
	if config.NoiseStdDev > 0 {
		noiseDist = &distuv.Normal{
			Mu:    0.0,
			Sigma: config.NoiseStdDev,
			Src:   source,
		}
	}

	return &Policy{
		config:     config,
		actionDist: actionDist,
		noiseDist:  noiseDist,
	}, nil
}

// SelectAction selects a uniform random action for every transition
// in the batch. The state parameter is ignored; the policy is
// stateless.
func (p *Policy) SelectAction(b *data.Batch,
	state *data.Batch) (*marl.Forward, error) {
	n := b.Len()
	if n == 0 {
		return nil, fmt.Errorf("selectaction: empty batch")
	}

	act := mat.NewDense(n, p.config.ActionDims, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p.config.ActionDims; j++ {
			act.Set(i, j, p.actionDist.Rand())
		}
	}

	out := &data.Batch{Act: act}
	return &marl.Forward{Act: act, State: nil, Out: out}, nil
}

// ProcessTransitions returns the batch unchanged; a random policy
// needs no pre-processing before learning
func (p *Policy) ProcessTransitions(b *data.Batch, buf marl.Buffer,
	indices []int) (*data.Batch, error) {
	return b, nil
}

// Learn performs no update and reports the number of transitions it
// was given
func (p *Policy) Learn(b *data.Batch) (map[string]float64, error) {
	return map[string]float64{"transitions": float64(b.Len())}, nil
}

// ExplorationNoise adds Gaussian noise to each action dimension,
// clipping the result to the configured action bounds. The act
// container is mutated in place and returned. When exploration noise
// is disabled the actions pass through unchanged.
func (p *Policy) ExplorationNoise(act *mat.Dense,
	b *data.Batch) (*mat.Dense, error) {
	if p.noiseDist == nil {
		return act, nil
	}

	r, c := act.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			noised := act.At(i, j) + p.noiseDist.Rand()
			act.Set(i, j, floatutils.Clip(noised, p.config.MinAction,
				p.config.MaxAction))
		}
	}
	return act, nil
}

// AgentID returns the policy's assigned agent ID
func (p *Policy) AgentID() int {
	return p.agentID
}

// SetAgentID assigns the policy's agent ID
func (p *Policy) SetAgentID(id int) {
	p.agentID = id
}
