package marl

import (
	"errors"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gomarl/data"
)

// scriptedPolicy is a Policy whose outputs are deterministic
// functions of its inputs, recording everything it is given
type scriptedPolicy struct {
	agentID int

	// base offsets the scripted action values so different policies
	// produce distinguishable outputs
	base float64

	// noiseDelta is added to every action by ExplorationNoise
	noiseDelta float64

	// state returned from SelectAction
	state *data.Batch

	failProcess bool
	failLearn   bool

	gotStates    []*data.Batch
	gotRews      []*mat.Dense
	gotBufRews   []*mat.Dense
	gotIndices   [][]int
	learnedSizes []int
}

var _ Policy = (*scriptedPolicy)(nil)

// SelectAction returns one action row per transition holding
// base + row position
func (s *scriptedPolicy) SelectAction(b *data.Batch,
	state *data.Batch) (*Forward, error) {
	s.gotStates = append(s.gotStates, state)
	s.gotRews = append(s.gotRews, b.Rew)

	act := mat.NewDense(b.Len(), 1, nil)
	for i := 0; i < b.Len(); i++ {
		act.Set(i, 0, s.base+float64(i))
	}
	return &Forward{Act: act, State: s.state, Out: &data.Batch{Act: act}},
		nil
}

func (s *scriptedPolicy) ProcessTransitions(b *data.Batch, buf Buffer,
	indices []int) (*data.Batch, error) {
	s.gotRews = append(s.gotRews, b.Rew)
	s.gotIndices = append(s.gotIndices, indices)
	if buf != nil {
		s.gotBufRews = append(s.gotBufRews, mat.DenseCopyOf(buf.Rew()))
	}
	if s.failProcess {
		return nil, errors.New("scripted process failure")
	}
	return b, nil
}

func (s *scriptedPolicy) Learn(b *data.Batch) (map[string]float64, error) {
	if s.failLearn {
		return nil, errors.New("scripted learn failure")
	}
	s.learnedSizes = append(s.learnedSizes, b.Len())
	return map[string]float64{"loss": s.base}, nil
}

func (s *scriptedPolicy) ExplorationNoise(act *mat.Dense,
	b *data.Batch) (*mat.Dense, error) {
	r, c := act.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			act.Set(i, j, act.At(i, j)+s.noiseDelta)
		}
	}
	return act, nil
}

func (s *scriptedPolicy) AgentID() int      { return s.agentID }
func (s *scriptedPolicy) SetAgentID(id int) { s.agentID = id }

// testBuffer is a Buffer backed by a swappable reward matrix
type testBuffer struct {
	rew *mat.Dense
}

func (b *testBuffer) Rew() *mat.Dense     { return b.rew }
func (b *testBuffer) SetRew(r *mat.Dense) { b.rew = r }

// interleavedBatch returns a batch of 6 transitions with agent tags
// [1, 2, 1, 2, 1, 2] and a two-column reward matrix
func interleavedBatch() *data.Batch {
	obs := mat.NewDense(6, 2, nil)
	rew := mat.NewDense(6, 2, nil)
	for i := 0; i < 6; i++ {
		obs.Set(i, 0, float64(i))
		rew.Set(i, 0, 10+float64(i))
		rew.Set(i, 1, 20+float64(i))
	}
	return &data.Batch{
		Obs:     obs,
		AgentID: []int{1, 2, 1, 2, 1, 2},
		Rew:     rew,
		NextObs: mat.DenseCopyOf(obs),
		Done:    make([]bool, 6),
	}
}

func TestNewManagerAssignsAgentIDs(t *testing.T) {
	first := &scriptedPolicy{}
	second := &scriptedPolicy{}
	m, err := NewManager(first, second)
	if err != nil {
		t.Fatalf("newmanager: %v", err)
	}

	if first.AgentID() != 1 || second.AgentID() != 2 {
		t.Errorf("newmanager: agent ids (%v, %v), want (1, 2)",
			first.AgentID(), second.AgentID())
	}
	if m.AgentID() != 0 {
		t.Errorf("newmanager: manager agent id %v, want reserved id 0",
			m.AgentID())
	}

	if _, err := NewManager(); err == nil {
		t.Error("newmanager: expected error for empty policy list")
	}
}

func TestPartition(t *testing.T) {
	m, err := NewManager(&scriptedPolicy{}, &scriptedPolicy{})
	if err != nil {
		t.Fatalf("newmanager: %v", err)
	}

	parts := m.Partition(interleavedBatch())
	wantFirst := []int{0, 2, 4}
	wantSecond := []int{1, 3, 5}
	if !equalInts(parts[1], wantFirst) {
		t.Errorf("partition: agent 1 indices %v, want %v", parts[1],
			wantFirst)
	}
	if !equalInts(parts[2], wantSecond) {
		t.Errorf("partition: agent 2 indices %v, want %v", parts[2],
			wantSecond)
	}

	// A policy with no matching transitions gets an explicit empty
	// partition, and unregistered tags appear in no partition
	b := &data.Batch{AgentID: []int{1, 3, 1}}
	parts = m.Partition(b)
	if !equalInts(parts[1], []int{0, 2}) {
		t.Errorf("partition: agent 1 indices %v, want [0 2]", parts[1])
	}
	if parts[2] == nil || len(parts[2]) != 0 {
		t.Errorf("partition: agent 2 indices %v, want explicit empty",
			parts[2])
	}
	if _, ok := parts[3]; ok {
		t.Error("partition: unregistered tag 3 should have no partition")
	}
}

func TestSelectActionPositional(t *testing.T) {
	first := &scriptedPolicy{base: 100}
	second := &scriptedPolicy{base: 200}
	m, err := NewManager(first, second)
	if err != nil {
		t.Fatalf("newmanager: %v", err)
	}

	b := interleavedBatch()
	forward, err := m.SelectAction(b, nil)
	if err != nil {
		t.Fatalf("selectaction: %v", err)
	}

	if r, _ := forward.Act.Dims(); r != b.Len() {
		t.Fatalf("selectaction: merged action has %v rows, want %v", r,
			b.Len())
	}

	// Positions 0, 2, 4 hold policy 1's outputs in relative order;
	// positions 1, 3, 5 hold policy 2's
	want := []float64{100, 200, 101, 201, 102, 202}
	for i, w := range want {
		if got := forward.Act.At(i, 0); got != w {
			t.Errorf("selectaction: position %v holds %v, want %v", i, got,
				w)
		}
	}

	// Both policies saw the scalar reward column of their own agent
	if len(first.gotRews) != 1 {
		t.Fatalf("selectaction: policy 1 called %v times, want 1",
			len(first.gotRews))
	}
	gotRew := first.gotRews[0]
	if _, c := gotRew.Dims(); c != 1 {
		t.Fatalf("selectaction: policy 1 saw %v reward columns, want 1", c)
	}
	wantRew := []float64{10, 12, 14}
	for i, w := range wantRew {
		if got := gotRew.At(i, 0); got != w {
			t.Errorf("selectaction: policy 1 reward %v is %v, want %v", i,
				got, w)
		}
	}

	// Input batch rewards are untouched
	if b.Rew.At(1, 1) != 21 {
		t.Error("selectaction: caller batch reward was modified")
	}
}

func TestSelectActionEmptyPartition(t *testing.T) {
	first := &scriptedPolicy{base: 100}
	second := &scriptedPolicy{base: 200}
	m, err := NewManager(first, second)
	if err != nil {
		t.Fatalf("newmanager: %v", err)
	}

	b := &data.Batch{
		Obs:     mat.NewDense(2, 1, []float64{0, 1}),
		AgentID: []int{1, 1},
	}
	forward, err := m.SelectAction(b, nil)
	if err != nil {
		t.Fatalf("selectaction: %v", err)
	}

	if len(second.gotRews) != 0 {
		t.Error("selectaction: policy 2 was called for an empty partition")
	}
	if r, _ := forward.Act.Dims(); r != 2 {
		t.Errorf("selectaction: merged action has %v rows, want 2", r)
	}

	// Explicit empty entries exist for the policy with no data
	for _, group := range []*data.Batch{forward.State, forward.Out} {
		entry := group.Group(GroupKey(2))
		if entry == nil {
			t.Fatal("selectaction: no entry for agent 2")
		}
		if !entry.IsEmpty() {
			t.Error("selectaction: agent 2 entry should be empty")
		}
	}
}

func TestSelectActionUnmatchedTagLeftZero(t *testing.T) {
	first := &scriptedPolicy{base: 100}
	second := &scriptedPolicy{base: 200}
	m, err := NewManager(first, second)
	if err != nil {
		t.Fatalf("newmanager: %v", err)
	}

	b := &data.Batch{
		Obs:     mat.NewDense(3, 1, []float64{0, 1, 2}),
		AgentID: []int{1, 7, 2},
	}
	forward, err := m.SelectAction(b, nil)
	if err != nil {
		t.Fatalf("selectaction: %v", err)
	}

	if got := forward.Act.At(0, 0); got != 100 {
		t.Errorf("selectaction: position 0 holds %v, want 100", got)
	}
	if got := forward.Act.At(1, 0); got != 0 {
		t.Errorf("selectaction: unmatched position holds %v, want 0", got)
	}
	if got := forward.Act.At(2, 0); got != 200 {
		t.Errorf("selectaction: position 2 holds %v, want 200", got)
	}
}

func TestSelectActionState(t *testing.T) {
	firstState := &data.Batch{AgentID: []int{9}}
	first := &scriptedPolicy{base: 100, state: firstState}
	second := &scriptedPolicy{base: 200}
	m, err := NewManager(first, second)
	if err != nil {
		t.Fatalf("newmanager: %v", err)
	}

	b := interleavedBatch()
	forward, err := m.SelectAction(b, nil)
	if err != nil {
		t.Fatalf("selectaction: %v", err)
	}

	// No input state mapping means no policy saw prior state
	if first.gotStates[0] != nil || second.gotStates[0] != nil {
		t.Error("selectaction: policies saw prior state on the first call")
	}

	// Threading the output state mapping back routes each policy its
	// own prior state; an empty entry means no prior state
	if _, err := m.SelectAction(b, forward.State); err != nil {
		t.Fatalf("selectaction: %v", err)
	}
	if first.gotStates[1] != firstState {
		t.Error("selectaction: policy 1 did not receive its prior state")
	}
	if second.gotStates[1] != nil {
		t.Error("selectaction: stateless policy 2 received prior state")
	}
}

func TestProcessTransitionsKeyed(t *testing.T) {
	first := &scriptedPolicy{base: 100}
	second := &scriptedPolicy{base: 200}
	m, err := NewManager(first, second)
	if err != nil {
		t.Fatalf("newmanager: %v", err)
	}

	bufRew := mat.NewDense(10, 2, nil)
	for i := 0; i < 10; i++ {
		bufRew.Set(i, 0, 50+float64(i))
		bufRew.Set(i, 1, 60+float64(i))
	}
	original := mat.DenseCopyOf(bufRew)
	buf := &testBuffer{rew: bufRew}

	b := interleavedBatch()
	indices := []int{4, 5, 6, 7, 8, 9}
	result, err := m.ProcessTransitions(b, buf, indices)
	if err != nil {
		t.Fatalf("processtransitions: %v", err)
	}

	// Results are keyed by agent, not positional
	for id := 1; id <= 2; id++ {
		if result.Group(GroupKey(id)) == nil {
			t.Errorf("processtransitions: no entry for agent %v", id)
		}
	}

	// Each policy received the buffer indices of its own partition
	if !equalInts(first.gotIndices[0], []int{4, 6, 8}) {
		t.Errorf("processtransitions: policy 1 indices %v, want [4 6 8]",
			first.gotIndices[0])
	}
	if !equalInts(second.gotIndices[0], []int{5, 7, 9}) {
		t.Errorf("processtransitions: policy 2 indices %v, want [5 7 9]",
			second.gotIndices[0])
	}

	// During each delegation the buffer's reward field held that
	// agent's scalar column
	for i, p := range []*scriptedPolicy{first, second} {
		seen := p.gotBufRews[0]
		if _, c := seen.Dims(); c != 1 {
			t.Fatalf("processtransitions: policy %v saw %v reward "+
				"columns, want 1", i+1, c)
		}
		for row := 0; row < 10; row++ {
			if seen.At(row, 0) != original.At(row, i) {
				t.Errorf("processtransitions: policy %v saw reward %v at "+
					"row %v, want %v", i+1, seen.At(row, 0), row,
					original.At(row, i))
			}
		}
	}

	// Round-trip: the reward field is restored bit-identically
	if !mat.Equal(buf.Rew(), original) {
		t.Error("processtransitions: buffer reward was not restored")
	}
}

func TestProcessTransitionsEmptyPartition(t *testing.T) {
	first := &scriptedPolicy{base: 100}
	second := &scriptedPolicy{base: 200}
	m, err := NewManager(first, second)
	if err != nil {
		t.Fatalf("newmanager: %v", err)
	}

	b := &data.Batch{
		Obs:     mat.NewDense(2, 1, []float64{0, 1}),
		AgentID: []int{1, 1},
		Rew:     mat.NewDense(2, 2, nil),
	}
	buf := &testBuffer{rew: mat.NewDense(4, 2, nil)}
	result, err := m.ProcessTransitions(b, buf, []int{0, 1})
	if err != nil {
		t.Fatalf("processtransitions: %v", err)
	}

	entry := result.Group(GroupKey(2))
	if entry == nil {
		t.Fatal("processtransitions: no entry for agent 2")
	}
	if !entry.IsEmpty() {
		t.Error("processtransitions: agent 2 entry should be empty")
	}
	if len(second.gotIndices) != 0 {
		t.Error("processtransitions: policy 2 was called for an empty " +
			"partition")
	}
}

func TestProcessTransitionsRestoresOnFailure(t *testing.T) {
	first := &scriptedPolicy{base: 100}
	second := &scriptedPolicy{base: 200, failProcess: true}
	m, err := NewManager(first, second)
	if err != nil {
		t.Fatalf("newmanager: %v", err)
	}

	bufRew := mat.NewDense(6, 2, nil)
	bufRew.Set(3, 1, 42)
	original := mat.DenseCopyOf(bufRew)
	buf := &testBuffer{rew: bufRew}

	_, err = m.ProcessTransitions(interleavedBatch(), buf,
		[]int{0, 1, 2, 3, 4, 5})
	if err == nil {
		t.Fatal("processtransitions: expected sub-policy failure to " +
			"propagate")
	}
	if !strings.Contains(err.Error(), "scripted process failure") {
		t.Errorf("processtransitions: error %q was translated", err)
	}
	if !mat.Equal(buf.Rew(), original) {
		t.Error("processtransitions: buffer reward not restored after " +
			"failure")
	}
}

func TestProcessTransitionsRewColumnOutOfRange(t *testing.T) {
	policies := []Policy{
		&scriptedPolicy{base: 100},
		&scriptedPolicy{base: 200},
		&scriptedPolicy{base: 300},
	}
	m, err := NewManager(policies...)
	if err != nil {
		t.Fatalf("newmanager: %v", err)
	}

	// Two reward columns cannot cover agent 3
	bufRew := mat.NewDense(3, 2, nil)
	original := mat.DenseCopyOf(bufRew)
	buf := &testBuffer{rew: bufRew}
	b := &data.Batch{
		Obs:     mat.NewDense(3, 1, nil),
		AgentID: []int{1, 2, 3},
		Rew:     mat.NewDense(3, 2, nil),
	}

	_, err = m.ProcessTransitions(b, buf, []int{0, 1, 2})
	if err == nil {
		t.Fatal("processtransitions: expected out-of-range error")
	}
	if !mat.Equal(buf.Rew(), original) {
		t.Error("processtransitions: buffer reward not restored after " +
			"out-of-range error")
	}
}

func TestExplorationNoiseInPlace(t *testing.T) {
	first := &scriptedPolicy{noiseDelta: 1}
	second := &scriptedPolicy{noiseDelta: 2}
	m, err := NewManager(first, second)
	if err != nil {
		t.Fatalf("newmanager: %v", err)
	}

	act := mat.NewDense(6, 1, []float64{0, 10, 0, 10, 0, 10})
	got, err := m.ExplorationNoise(act, interleavedBatch())
	if err != nil {
		t.Fatalf("explorationnoise: %v", err)
	}
	if got != act {
		t.Error("explorationnoise: container was replaced, not mutated")
	}

	want := []float64{1, 12, 1, 12, 1, 12}
	for i, w := range want {
		if act.At(i, 0) != w {
			t.Errorf("explorationnoise: position %v holds %v, want %v", i,
				act.At(i, 0), w)
		}
	}
}

func TestLearnSkipsEmptyEntries(t *testing.T) {
	first := &scriptedPolicy{base: 100}
	second := &scriptedPolicy{base: 200}
	m, err := NewManager(first, second)
	if err != nil {
		t.Fatalf("newmanager: %v", err)
	}

	processed := data.Empty()
	processed.SetGroup(GroupKey(1), &data.Batch{AgentID: []int{1, 1}})
	processed.SetGroup(GroupKey(2), data.Empty())

	metrics, err := m.Learn(processed)
	if err != nil {
		t.Fatalf("learn: %v", err)
	}

	if got, ok := metrics["1/loss"]; !ok || got != 100 {
		t.Errorf("learn: metrics[1/loss] = %v, want 100", got)
	}
	for key := range metrics {
		if strings.HasPrefix(key, "2/") {
			t.Errorf("learn: emitted key %q for an agent with empty data",
				key)
		}
	}
	if len(second.learnedSizes) != 0 {
		t.Error("learn: policy 2 was updated with empty data")
	}
}

func TestReplacePolicy(t *testing.T) {
	first := &scriptedPolicy{base: 100}
	second := &scriptedPolicy{base: 200}
	m, err := NewManager(first, second)
	if err != nil {
		t.Fatalf("newmanager: %v", err)
	}

	replacement := &scriptedPolicy{base: 900}
	if err := m.ReplacePolicy(replacement, 2); err != nil {
		t.Fatalf("replacepolicy: %v", err)
	}
	if replacement.AgentID() != 2 {
		t.Errorf("replacepolicy: replacement agent id %v, want 2",
			replacement.AgentID())
	}

	forward, err := m.SelectAction(interleavedBatch(), nil)
	if err != nil {
		t.Fatalf("selectaction: %v", err)
	}
	if got := forward.Act.At(1, 0); got != 900 {
		t.Errorf("replacepolicy: tag-2 transition routed to old policy "+
			"(got %v)", got)
	}
	if len(second.gotRews) != 0 {
		t.Error("replacepolicy: replaced policy still receives data")
	}

	// Out-of-range agent ids fail and leave the registry unchanged
	for _, id := range []int{0, 3, -1} {
		if err := m.ReplacePolicy(&scriptedPolicy{}, id); err == nil {
			t.Errorf("replacepolicy: expected error for agent id %v", id)
		}
	}
	if m.NumPolicies() != 2 {
		t.Errorf("replacepolicy: registry size %v, want 2", m.NumPolicies())
	}
}

func TestManagerNests(t *testing.T) {
	child := &scriptedPolicy{base: 100}
	inner, err := NewManager(child)
	if err != nil {
		t.Fatalf("newmanager: %v", err)
	}
	outer, err := NewManager(inner)
	if err != nil {
		t.Fatalf("newmanager: %v", err)
	}

	if inner.AgentID() != 1 {
		t.Fatalf("nesting: inner manager agent id %v, want 1",
			inner.AgentID())
	}

	b := &data.Batch{
		Obs:     mat.NewDense(2, 1, []float64{0, 1}),
		AgentID: []int{1, 1},
	}
	forward, err := outer.SelectAction(b, nil)
	if err != nil {
		t.Fatalf("selectaction: %v", err)
	}
	want := []float64{100, 101}
	for i, w := range want {
		if forward.Act.At(i, 0) != w {
			t.Errorf("nesting: position %v holds %v, want %v", i,
				forward.Act.At(i, 0), w)
		}
	}

	processed, err := outer.ProcessTransitions(b, nil, nil)
	if err != nil {
		t.Fatalf("processtransitions: %v", err)
	}
	metrics, err := outer.Learn(processed)
	if err != nil {
		t.Fatalf("learn: %v", err)
	}
	if got, ok := metrics["1/1/loss"]; !ok || got != 100 {
		t.Errorf("nesting: metrics[1/1/loss] = %v, want 100", got)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
