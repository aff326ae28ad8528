// Package replay implements experience replay for multi-agent
// transition data
package replay

import (
	"container/list"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gomarl/data"
	"github.com/samuelfneumann/gomarl/utils/intutils"
)

// Config implements a specific configuration of a replay Buffer
type Config struct {
	RemoveMethod      SelectorType
	SampleMethod      SelectorType
	RemoveSize        int
	SampleSize        int
	MaxReplayCapacity int
	MinReplayCapacity int
}

// Create creates and returns the Buffer with the specified Config.
// The obsSize and actionSize parameters define the size of the
// observation and action vectors, and numAgents defines the number
// of columns in the buffer's reward matrix.
func (c Config) Create(obsSize, actionSize, numAgents int,
	seed int64) (*Buffer, error) {
	remover := CreateSelector(c.RemoveMethod, c.RemoveSize, seed)
	sampler := CreateSelector(c.SampleMethod, c.SampleSize, seed)

	return New(remover, sampler, c.MinReplayCapacity, c.MaxReplayCapacity,
		obsSize, actionSize, numAgents)
}

// Buffer implements a replay buffer for multi-agent transitions.
// Observations and actions are stored in flat caches, one row per
// buffer slot. Rewards are stored in a matrix with one column per
// agent; the matrix is exposed through Rew and SetRew so that a
// dispatching policy manager can transiently substitute it with a
// single agent's scalar column during transition pre-processing.
type Buffer struct {
	obsCache     []float64
	actionCache  []float64
	nextObsCache []float64
	agentIDs     []int
	done         []bool
	rew          *mat.Dense

	// The indices of the buffer that are empty and have no data
	emptyIndices []int

	// The indices of the buffer that have data
	inUseIndices []int

	// orderOfInsert outlines the chronological order of inserts. For
	// i > j, the data at index orderOfInsert[i] was inserted into the
	// buffer after the data at index orderOfInsert[j]
	orderOfInsert *list.List

	// Outlines how data is removed and sampled
	remover Selector
	sampler Selector

	minCapacity int
	maxCapacity int
	obsSize     int
	actionSize  int
	numAgents   int
}

// New creates and returns a new Buffer. The remover and sampler
// parameters are Selectors which determine how data is removed and
// sampled from the replay buffer.
func New(remover, sampler Selector, minCapacity, maxCapacity, obsSize,
	actionSize, numAgents int) (*Buffer, error) {
	if minCapacity <= 0 {
		return nil, fmt.Errorf("new: minCapacity must be > 0")
	}
	if maxCapacity < 1 {
		return nil, fmt.Errorf("new: maxCapacity must be >= 1")
	}
	if maxCapacity < sampler.BatchSize() {
		return nil, fmt.Errorf("new: cannot have batch size(%v) > max "+
			"buffer capacity (%v)", sampler.BatchSize(), maxCapacity)
	}
	if numAgents < 1 {
		return nil, fmt.Errorf("new: numAgents must be >= 1")
	}
	if obsSize < 1 || actionSize < 1 {
		return nil, fmt.Errorf("new: obsSize and actionSize must be >= 1")
	}

	remover.registerAsRemover()

	emptyIndices := make([]int, maxCapacity)
	for i := 0; i < maxCapacity; i++ {
		emptyIndices[i] = i
	}

	return &Buffer{
		obsCache:     make([]float64, maxCapacity*obsSize),
		actionCache:  make([]float64, maxCapacity*actionSize),
		nextObsCache: make([]float64, maxCapacity*obsSize),
		agentIDs:     make([]int, maxCapacity),
		done:         make([]bool, maxCapacity),
		rew:          mat.NewDense(maxCapacity, numAgents, nil),

		emptyIndices:  emptyIndices,
		inUseIndices:  make([]int, 0, maxCapacity),
		orderOfInsert: list.New(),

		remover: remover,
		sampler: sampler,

		minCapacity: minCapacity,
		maxCapacity: maxCapacity,
		obsSize:     obsSize,
		actionSize:  actionSize,
		numAgents:   numAgents,
	}, nil
}

// Rew returns the buffer's reward field: one row per buffer slot and
// one column per agent. The returned matrix is the buffer's backing
// field, not a copy.
func (b *Buffer) Rew() *mat.Dense {
	return b.rew
}

// SetRew replaces the buffer's reward field. Other fields are
// unaffected.
func (b *Buffer) SetRew(rew *mat.Dense) {
	b.rew = rew
}

// BatchSize returns the number of samples returned by Sample()
func (b *Buffer) BatchSize() int {
	return b.sampler.BatchSize()
}

// Capacity returns the current number of elements in the buffer that
// are available for sampling
func (b *Buffer) Capacity() int {
	return len(b.inUseIndices)
}

// MaxCapacity returns the maximum number of elements that are
// allowed in the buffer
func (b *Buffer) MaxCapacity() int {
	return b.maxCapacity
}

// MinCapacity returns the minimum number of elements required in the
// buffer before sampling is allowed
func (b *Buffer) MinCapacity() int {
	return b.minCapacity
}

// NumAgents returns the number of reward columns the buffer stores
// per transition
func (b *Buffer) NumAgents() int {
	return b.numAgents
}

// insertOrder returns a slice of at most n indices which describes
// the order that the first n data were inserted into the buffer. The
// length of the returned slice is the minimum between n and the
// number of elements currently in the buffer.
func (b *Buffer) insertOrder(n int) []int {
	size := intutils.Min(n, b.Capacity())
	insertOrder := make([]int, size)
	element := b.orderOfInsert.Front()

	for i := 0; i < size; i++ {
		insertOrder[i] = element.Value.(int)
		element = element.Next()
		if element == nil {
			break
		}
	}
	return insertOrder
}

// removeFront removes the earliest tracked index at which data was
// inserted
func (b *Buffer) removeFront() {
	b.orderOfInsert.Remove(b.orderOfInsert.Front())
}

// remove removes elements from the buffer using indices sampled from
// the buffer's remover
func (b *Buffer) remove() error {
	if b.Capacity() <= b.minCapacity {
		return fmt.Errorf("remove: cannot remove, buffer at min capacity")
	}

	indices := b.remover.choose(b)
	for _, index := range indices {
		for i := range b.inUseIndices {
			if b.inUseIndices[i] == index {
				b.inUseIndices[i] = b.inUseIndices[len(b.inUseIndices)-1]
				b.inUseIndices = b.inUseIndices[:len(b.inUseIndices)-1]
				break
			}
		}
		b.emptyIndices = append(b.emptyIndices, index)
	}
	return nil
}

// Add adds a transition to the buffer. The transition's reward must
// have one entry per agent.
func (b *Buffer) Add(t data.Transition) error {
	if b.Capacity() >= b.maxCapacity {
		err := b.remove()
		if err != nil {
			return fmt.Errorf("add: cannot add to buffer: %v", err)
		}
	}

	if t.Obs.Len() != b.obsSize || t.NextObs.Len() != b.obsSize {
		return fmt.Errorf("add: invalid obs size \n\twant(%v)\n\thave(%v)",
			b.obsSize, t.Obs.Len())
	}
	if t.Act == nil || t.Act.Len() != b.actionSize {
		return fmt.Errorf("add: invalid action size \n\twant(%v)"+
			"\n\thave(%v)", b.actionSize, vecLen(t.Act))
	}
	if t.Rew == nil || t.Rew.Len() != b.numAgents {
		return fmt.Errorf("add: invalid reward size \n\twant(%v)"+
			"\n\thave(%v)", b.numAgents, vecLen(t.Rew))
	}

	emptyIndicesLength := len(b.emptyIndices)
	index := b.emptyIndices[emptyIndicesLength-1]
	b.emptyIndices = b.emptyIndices[:emptyIndicesLength-1]
	b.orderOfInsert.PushBack(index)
	b.inUseIndices = append(b.inUseIndices, index)

	obsInd := index * b.obsSize
	for i := 0; i < b.obsSize; i++ {
		b.obsCache[obsInd+i] = t.Obs.AtVec(i)
		b.nextObsCache[obsInd+i] = t.NextObs.AtVec(i)
	}

	actionInd := index * b.actionSize
	for i := 0; i < b.actionSize; i++ {
		b.actionCache[actionInd+i] = t.Act.AtVec(i)
	}

	for i := 0; i < b.numAgents; i++ {
		b.rew.Set(index, i, t.Rew.AtVec(i))
	}

	b.agentIDs[index] = t.AgentID
	b.done[index] = t.Done

	return nil
}

func vecLen(v mat.Vector) int {
	if v == nil {
		return 0
	}
	return v.Len()
}

// Sample samples a batch of transitions from the replay buffer,
// returning the batch along with the buffer indices each transition
// was stored at. The indices are what a dispatching policy manager's
// ProcessTransitions expects alongside the batch.
func (b *Buffer) Sample() (*data.Batch, []int, error) {
	if b.Capacity() == 0 {
		err := &Error{
			Op:  "sample",
			Err: errEmptyBuffer,
		}
		return nil, nil, err
	}
	if b.Capacity() < b.MinCapacity() {
		err := &Error{
			Op:  "sample",
			Err: errInsufficientSamples,
		}
		return nil, nil, err
	}

	indices := b.sampler.choose(b)
	batch, err := b.Get(indices)
	if err != nil {
		return nil, nil, err
	}
	return batch, indices, nil
}

// Get returns a batch holding the transitions stored at the argument
// buffer indices, in the order the indices are given
func (b *Buffer) Get(indices []int) (*data.Batch, error) {
	if len(indices) == 0 {
		return data.Empty(), nil
	}

	n := len(indices)
	batch := &data.Batch{
		Obs:     mat.NewDense(n, b.obsSize, nil),
		AgentID: make([]int, n),
		Act:     mat.NewDense(n, b.actionSize, nil),
		NextObs: mat.NewDense(n, b.obsSize, nil),
		Done:    make([]bool, n),
	}
	rewRows, rewCols := b.rew.Dims()
	batch.Rew = mat.NewDense(n, rewCols, nil)

	for i, index := range indices {
		if index < 0 || index >= b.maxCapacity || index >= rewRows {
			return nil, fmt.Errorf("get: index %v out of range [0, %v)",
				index, b.maxCapacity)
		}

		obsInd := index * b.obsSize
		batch.Obs.SetRow(i, b.obsCache[obsInd:obsInd+b.obsSize])
		batch.NextObs.SetRow(i, b.nextObsCache[obsInd:obsInd+b.obsSize])

		actionInd := index * b.actionSize
		batch.Act.SetRow(i, b.actionCache[actionInd:actionInd+b.actionSize])

		batch.Rew.SetRow(i, mat.Row(nil, index, b.rew))

		batch.AgentID[i] = b.agentIDs[index]
		batch.Done[i] = b.done[index]
	}
	return batch, nil
}

// String returns the string representation of the buffer
func (b *Buffer) String() string {
	baseStr := "Indices Available: %v \nIndices Used: %v \nObs: %v" +
		" \nActions: %v \nRewards: %v \nAgent IDs: %v"
	return fmt.Sprintf(baseStr, b.emptyIndices, b.inUseIndices, b.obsCache,
		b.actionCache, mat.Formatted(b.rew), b.agentIDs)
}
