package data

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Batch is an ordered, index-addressable collection of transitions.
// Each field holds one row per transition, in the order the
// transitions were collected. A Batch supports slicing by an arbitrary
// index subsequence, concatenation, and attachment of named result
// fields, so per-agent slices of a batch carry the same field set as
// the batch they were sliced from.
//
// A Batch may also hold named sub-batch groups. Groups are not
// positional: they hold per-agent results keyed by an agent group
// name, and they are ignored by Slice and Cat.
type Batch struct {
	Obs     *mat.Dense // rows = transitions
	AgentID []int      // per-row agent tag from the observation
	Act     *mat.Dense
	Rew     *mat.Dense // nil, n×1 scalar, or one column per agent
	NextObs *mat.Dense
	Done    []bool

	info   map[string]*mat.Dense
	groups map[string]*Batch
}

// Empty returns a new Batch with no transitions and no groups
func Empty() *Batch {
	return &Batch{}
}

// FromTransitions packs a list of transitions into a Batch, preserving
// their order. All transitions must have the same field widths, and
// the reward must be present on either all transitions or none.
func FromTransitions(transitions []Transition) (*Batch, error) {
	if len(transitions) == 0 {
		return Empty(), nil
	}

	n := len(transitions)
	first := transitions[0]
	hasRew := first.Rew != nil

	b := &Batch{
		Obs:     mat.NewDense(n, first.Obs.Len(), nil),
		AgentID: make([]int, n),
		NextObs: mat.NewDense(n, first.NextObs.Len(), nil),
		Done:    make([]bool, n),
	}
	if first.Act != nil {
		b.Act = mat.NewDense(n, first.Act.Len(), nil)
	}
	if hasRew {
		b.Rew = mat.NewDense(n, first.Rew.Len(), nil)
	}

	for i, t := range transitions {
		if (t.Rew != nil) != hasRew {
			return nil, fmt.Errorf("fromtransitions: transition %v: "+
				"reward must be present on all transitions or none", i)
		}
		if err := setRow(b.Obs, i, t.Obs); err != nil {
			return nil, fmt.Errorf("fromtransitions: transition %v obs: %v",
				i, err)
		}
		if err := setRow(b.NextObs, i, t.NextObs); err != nil {
			return nil, fmt.Errorf("fromtransitions: transition %v next "+
				"obs: %v", i, err)
		}
		if b.Act != nil {
			if err := setRow(b.Act, i, t.Act); err != nil {
				return nil, fmt.Errorf("fromtransitions: transition %v "+
					"act: %v", i, err)
			}
		}
		if hasRew {
			if err := setRow(b.Rew, i, t.Rew); err != nil {
				return nil, fmt.Errorf("fromtransitions: transition %v "+
					"rew: %v", i, err)
			}
		}
		b.AgentID[i] = t.AgentID
		b.Done[i] = t.Done
	}
	return b, nil
}

// setRow writes a vector into row i of m, checking the width
func setRow(m *mat.Dense, i int, v mat.Vector) error {
	_, c := m.Dims()
	if v == nil || v.Len() != c {
		return fmt.Errorf("illegal width \n\twant(%v)\n\thave(%v)", c,
			vecLen(v))
	}
	for j := 0; j < c; j++ {
		m.Set(i, j, v.AtVec(j))
	}
	return nil
}

func vecLen(v mat.Vector) int {
	if v == nil {
		return 0
	}
	return v.Len()
}

// Len returns the number of transitions in the batch
func (b *Batch) Len() int {
	switch {
	case b.AgentID != nil:
		return len(b.AgentID)
	case b.Obs != nil:
		r, _ := b.Obs.Dims()
		return r
	case b.Act != nil:
		r, _ := b.Act.Dims()
		return r
	case b.Done != nil:
		return len(b.Done)
	case b.Rew != nil:
		r, _ := b.Rew.Dims()
		return r
	}
	return 0
}

// IsEmpty returns whether the batch holds no transitions and no
// groups
func (b *Batch) IsEmpty() bool {
	return b == nil || (b.Len() == 0 && len(b.groups) == 0 &&
		len(b.info) == 0)
}

// Slice returns a new Batch holding the transitions at the argument
// positions, in the order the positions are given. The receiver is
// not modified. Groups are not carried over to the slice.
func (b *Batch) Slice(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return Empty(), nil
	}
	n := b.Len()
	for _, i := range indices {
		if i < 0 || i >= n {
			return nil, fmt.Errorf("slice: index %v out of range [0, %v)",
				i, n)
		}
	}

	out := &Batch{
		Obs:     gatherRows(b.Obs, indices),
		Act:     gatherRows(b.Act, indices),
		Rew:     gatherRows(b.Rew, indices),
		NextObs: gatherRows(b.NextObs, indices),
	}
	if b.AgentID != nil {
		out.AgentID = make([]int, len(indices))
		for j, i := range indices {
			out.AgentID[j] = b.AgentID[i]
		}
	}
	if b.Done != nil {
		out.Done = make([]bool, len(indices))
		for j, i := range indices {
			out.Done[j] = b.Done[i]
		}
	}
	for name, field := range b.info {
		out.setInfoField(name, gatherRows(field, indices))
	}
	return out, nil
}

// gatherRows returns a new matrix holding the argument rows of m in
// the order given. A nil m gathers to nil.
func gatherRows(m *mat.Dense, indices []int) *mat.Dense {
	if m == nil || len(indices) == 0 {
		return nil
	}
	_, c := m.Dims()
	out := mat.NewDense(len(indices), c, nil)
	for j, i := range indices {
		out.SetRow(j, mat.Row(nil, i, m))
	}
	return out
}

// Cat concatenates batches with homogeneous field sets into a single
// batch, preserving the order of the arguments. Empty batches are
// skipped. Groups and attached info fields are not concatenated.
func Cat(batches []*Batch) (*Batch, error) {
	nonEmpty := make([]*Batch, 0, len(batches))
	for _, b := range batches {
		if b != nil && b.Len() > 0 {
			nonEmpty = append(nonEmpty, b)
		}
	}
	if len(nonEmpty) == 0 {
		return Empty(), nil
	}

	first := nonEmpty[0]
	total := 0
	for i, b := range nonEmpty {
		if (b.Obs == nil) != (first.Obs == nil) ||
			(b.Act == nil) != (first.Act == nil) ||
			(b.Rew == nil) != (first.Rew == nil) ||
			(b.NextObs == nil) != (first.NextObs == nil) ||
			(b.AgentID == nil) != (first.AgentID == nil) ||
			(b.Done == nil) != (first.Done == nil) {
			return nil, fmt.Errorf("cat: batch %v has a different field "+
				"set than batch 0", i)
		}
		total += b.Len()
	}

	out := &Batch{}
	var err error
	if out.Obs, err = catDense(nonEmpty, total, obsField); err != nil {
		return nil, fmt.Errorf("cat: obs: %v", err)
	}
	if out.Act, err = catDense(nonEmpty, total, actField); err != nil {
		return nil, fmt.Errorf("cat: act: %v", err)
	}
	if out.Rew, err = catDense(nonEmpty, total, rewField); err != nil {
		return nil, fmt.Errorf("cat: rew: %v", err)
	}
	if out.NextObs, err = catDense(nonEmpty, total, nextObsField); err != nil {
		return nil, fmt.Errorf("cat: next obs: %v", err)
	}

	if first.AgentID != nil {
		out.AgentID = make([]int, 0, total)
		for _, b := range nonEmpty {
			out.AgentID = append(out.AgentID, b.AgentID...)
		}
	}
	if first.Done != nil {
		out.Done = make([]bool, 0, total)
		for _, b := range nonEmpty {
			out.Done = append(out.Done, b.Done...)
		}
	}
	return out, nil
}

type denseField func(*Batch) *mat.Dense

func obsField(b *Batch) *mat.Dense     { return b.Obs }
func actField(b *Batch) *mat.Dense     { return b.Act }
func rewField(b *Batch) *mat.Dense     { return b.Rew }
func nextObsField(b *Batch) *mat.Dense { return b.NextObs }

// catDense stacks one dense field of each batch on top of one another
func catDense(batches []*Batch, total int, field denseField) (*mat.Dense,
	error) {
	first := field(batches[0])
	if first == nil {
		return nil, nil
	}

	_, cols := first.Dims()
	out := mat.NewDense(total, cols, nil)
	row := 0
	for i, b := range batches {
		m := field(b)
		r, c := m.Dims()
		if c != cols {
			return nil, fmt.Errorf("batch %v has width %v, batch 0 has "+
				"width %v", i, c, cols)
		}
		for j := 0; j < r; j++ {
			out.SetRow(row, mat.Row(nil, j, m))
			row++
		}
	}
	return out, nil
}

// SetInfo attaches a named auxiliary field to the batch. The field
// must have one row per transition unless the batch is empty.
func (b *Batch) SetInfo(name string, field *mat.Dense) error {
	if field != nil && b.Len() > 0 {
		if r, _ := field.Dims(); r != b.Len() {
			return fmt.Errorf("setinfo: field %v has %v rows for %v "+
				"transitions", name, r, b.Len())
		}
	}
	b.setInfoField(name, field)
	return nil
}

func (b *Batch) setInfoField(name string, field *mat.Dense) {
	if b.info == nil {
		b.info = make(map[string]*mat.Dense)
	}
	b.info[name] = field
}

// Info returns the named auxiliary field, or nil if no such field has
// been attached
func (b *Batch) Info(name string) *mat.Dense {
	return b.info[name]
}

// SetGroup attaches a named sub-batch group to the batch. A nil group
// is stored as an explicit empty batch.
func (b *Batch) SetGroup(name string, group *Batch) {
	if group == nil {
		group = Empty()
	}
	if b.groups == nil {
		b.groups = make(map[string]*Batch)
	}
	b.groups[name] = group
}

// Group returns the named sub-batch group, or nil if no such group
// exists
func (b *Batch) Group(name string) *Batch {
	if b == nil {
		return nil
	}
	return b.groups[name]
}

// GroupKeys returns the names of the batch's sub-batch groups in
// lexicographic order
func (b *Batch) GroupKeys() []string {
	keys := make([]string, 0, len(b.groups))
	for name := range b.groups {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}
