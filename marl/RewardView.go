package marl

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// rewardView transiently substitutes a buffer's multi-agent reward
// matrix with a single agent's scalar column. The view is acquired
// once per dispatch call, swapped to an agent's column around each
// per-agent delegation, and restored before the next delegation
// begins and before any error propagates.
//
// A view over a nil buffer, or over a buffer whose reward field is
// absent or already scalar, is inactive: swap and restore are no-ops.
type rewardView struct {
	buf   Buffer
	saved *mat.Dense
}

// newRewardView acquires a reward view over buf
func newRewardView(buf Buffer) *rewardView {
	if buf == nil {
		return &rewardView{}
	}
	rew := buf.Rew()
	if !multiAgentRew(rew) {
		return &rewardView{}
	}
	return &rewardView{buf: buf, saved: rew}
}

// active returns whether the view holds a multi-agent reward matrix
// to swap
func (v *rewardView) active() bool {
	return v.saved != nil
}

// swap replaces the buffer's reward field with the argument agent's
// scalar column of the saved matrix
func (v *rewardView) swap(agentID int) error {
	if !v.active() {
		return nil
	}
	col, err := scalarColumn(v.saved, agentID)
	if err != nil {
		return err
	}
	v.buf.SetRew(col)
	return nil
}

// restore puts the saved multi-agent reward matrix back on the
// buffer. Restore may be called any number of times on any exit path.
func (v *rewardView) restore() {
	if v.active() {
		v.buf.SetRew(v.saved)
	}
}

// multiAgentRew returns whether rew holds one reward column per agent
func multiAgentRew(rew *mat.Dense) bool {
	if rew == nil {
		return false
	}
	_, c := rew.Dims()
	return c > 1
}

// scalarColumn extracts the argument agent's reward column as an n×1
// matrix
func scalarColumn(rew *mat.Dense, agentID int) (*mat.Dense, error) {
	r, c := rew.Dims()
	if agentID < 1 || agentID > c {
		return nil, fmt.Errorf("scalarcolumn: no reward column for agent "+
			"%v \n\thave(%v columns)", agentID, c)
	}
	return mat.NewDense(r, 1, mat.Col(nil, agentID-1, rew)), nil
}
