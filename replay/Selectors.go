package replay

import (
	"math/rand"

	"github.com/samuelfneumann/gomarl/utils/intutils"
)

// SelectorType names a method of choosing indices to sample or
// remove from a replay buffer
type SelectorType string

const (
	Uniform SelectorType = "Uniform"
	Fifo    SelectorType = "Fifo"
)

// CreateSelector is a factory method for creating a Selector of a
// given type
func CreateSelector(t SelectorType, batchSize int, seed int64) Selector {
	switch t {
	case Fifo:
		return NewFifoSelector(batchSize)
	default:
		return NewUniformSelector(batchSize, seed)
	}
}

// Selector implements functionality for choosing how data should be
// sampled and/or removed from a replay buffer
type Selector interface {
	// choose selects the indices at which data should be sampled
	// from the replay buffer
	choose(b *Buffer) []int

	// BatchSize returns the number of elements that will be selected
	BatchSize() int

	// registerAsRemover registers a Selector as a remover
	//
	// Some Selectors require different behaviour if they are
	// removers, so they should be notified if they become a remover
	// to add this additional behaviour
	registerAsRemover()
}

// uniformSelector is a Selector which selects data from a replay
// buffer uniformly randomly
type uniformSelector struct {
	samples int
	rng     *rand.Rand
}

// NewUniformSelector returns a new Selector which selects data
// uniformly randomly from a replay buffer
func NewUniformSelector(samples int, seed int64) Selector {
	source := rand.NewSource(seed)
	rng := rand.New(source)

	return &uniformSelector{samples: samples, rng: rng}
}

// registerAsRemover implements Selector interface
func (u *uniformSelector) registerAsRemover() {}

// BatchSize gets the number of samples in a batch drawn from the
// buffer
func (u *uniformSelector) BatchSize() int {
	return u.samples
}

// choose selects a number of indices at which to draw data from the
// buffer
func (u *uniformSelector) choose(b *Buffer) []int {
	selected := make([]int, u.BatchSize())

	for i := 0; i < u.BatchSize(); i++ {
		index := u.rng.Int() % b.Capacity()
		selected[i] = b.inUseIndices[index]
	}

	return selected
}

// fifoSelector is a Selector which selects data from a replay buffer
// as first-in-first-out
type fifoSelector struct {
	samples int
	remover bool
}

// NewFifoSelector returns a new Selector which draws data from a
// replay buffer as FiFo
func NewFifoSelector(samples int) Selector {
	return &fifoSelector{samples: samples, remover: false}
}

// registerAsRemover implements Selector interface
func (f *fifoSelector) registerAsRemover() {
	f.remover = true
}

// BatchSize gets the number of samples in a batch drawn from the
// buffer
func (f *fifoSelector) BatchSize() int {
	return f.samples
}

// choose selects a number of indices at which to draw data from the
// buffer
func (f *fifoSelector) choose(b *Buffer) []int {
	selected := make([]int, intutils.Min(f.BatchSize(), b.Capacity()))
	insertOrder := b.insertOrder(f.BatchSize())

	for i := 0; i < f.BatchSize() && i < b.Capacity(); i++ {
		selected[i] = insertOrder[i]

		if f.remover {
			// In a FiFo remover, the indices at which data was first
			// added get freed first, so we can remove these from the
			// ordering of inserted indices
			b.removeFront()
		}
	}

	return selected
}
