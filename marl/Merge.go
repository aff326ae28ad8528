package marl

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gomarl/data"
)

// The action path and the learning path merge per-agent results
// differently. Action selection reassembles positionally: each
// policy's actions are scattered back to the original batch
// positions of its partition. Transition pre-processing gathers
// non-positionally: each policy's result is stored whole under its
// agent group key. The two strategies are kept as distinct types so
// the paths cannot be conflated.

// positionalMerger reassembles per-agent outputs into a fixed-length
// arena indexed by original batch position
type positionalMerger struct {
	rows int
	act  *mat.Dense
}

func newPositionalMerger(rows int) *positionalMerger {
	return &positionalMerger{rows: rows}
}

// scatter writes row j of act to arena position indices[j] for every
// j. The arena is allocated on the first scatter, taking its width
// from the first result.
func (p *positionalMerger) scatter(indices []int, act *mat.Dense) error {
	if act == nil {
		return fmt.Errorf("scatter: nil actions for a non-empty partition")
	}
	r, c := act.Dims()
	if r != len(indices) {
		return fmt.Errorf("scatter: have %v actions for %v positions", r,
			len(indices))
	}
	if p.act == nil {
		p.act = mat.NewDense(p.rows, c, nil)
	}
	if _, width := p.act.Dims(); width != c {
		return fmt.Errorf("scatter: action width %v does not match arena "+
			"width %v", c, width)
	}
	return scatterRows(p.act, indices, act)
}

// merged returns the reassembled action container. The container is
// nil if no partition produced actions; positions belonging to no
// partition hold zeros.
func (p *positionalMerger) merged() *mat.Dense {
	return p.act
}

// keyedMerger collects per-agent results under their agent group
// keys. Every registered policy receives an entry; policies with no
// data receive an explicit empty one.
type keyedMerger struct {
	out *data.Batch
}

func newKeyedMerger() *keyedMerger {
	return &keyedMerger{out: data.Empty()}
}

// add stores a policy's result under its agent group key. A nil
// result records an explicit empty entry.
func (k *keyedMerger) add(agentID int, result *data.Batch) {
	k.out.SetGroup(GroupKey(agentID), result)
}

func (k *keyedMerger) merged() *data.Batch {
	return k.out
}

// gatherRows returns a new matrix holding the argument rows of m in
// the order given
func gatherRows(m *mat.Dense, indices []int) (*mat.Dense, error) {
	if m == nil {
		return nil, fmt.Errorf("gather: nil matrix")
	}
	r, c := m.Dims()
	out := mat.NewDense(len(indices), c, nil)
	for j, i := range indices {
		if i < 0 || i >= r {
			return nil, fmt.Errorf("gather: row %v out of range [0, %v)",
				i, r)
		}
		out.SetRow(j, mat.Row(nil, i, m))
	}
	return out, nil
}

// scatterRows writes row j of src to row indices[j] of dst for every
// j, mutating dst in place
func scatterRows(dst *mat.Dense, indices []int, src *mat.Dense) error {
	r, _ := dst.Dims()
	for j, i := range indices {
		if i < 0 || i >= r {
			return fmt.Errorf("scatter: row %v out of range [0, %v)", i, r)
		}
		dst.SetRow(i, mat.Row(nil, j, src))
	}
	return nil
}
