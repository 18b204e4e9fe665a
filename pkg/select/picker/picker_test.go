package picker

import (
	"context"
	"testing"

	"github.com/clusterctl/nodeselect/pkg/bitmap"
	"github.com/clusterctl/nodeselect/pkg/clusterstate"
	"github.com/clusterctl/nodeselect/pkg/job"
	"github.com/clusterctl/nodeselect/pkg/nodeset"
	"github.com/clusterctl/nodeselect/pkg/oracle"
	"github.com/clusterctl/nodeselect/pkg/selecterr"
	"github.com/clusterctl/nodeselect/pkg/sharing"
)

// fakeOracle is a minimal, test-controlled stand-in for the placement
// oracle (spec.md §6): it trims the candidate to the first req members
// in index order, failing if fewer than min are available -- the
// oracle may always be asked to shrink its input bitmap in place, so
// it returns only the trimmed bitmap, never mutating the backup the
// caller retained.
type fakeOracle struct {
	// alwaysFail makes every SelectJobTest call fail, used to exercise
	// the BUSY/INFEASIBLE_CONFIG/PART_CONFIG_UNAVAILABLE diagnoses.
	alwaysFail bool
}

func (f *fakeOracle) SelectJobTest(ctx context.Context, j *job.Job, candidate bitmap.Set, min, max, req int, mode oracle.Mode, preemptCandidates []job.ID) (oracle.Result, error) {
	if f.alwaysFail {
		return oracle.Result{}, selecterr.New(selecterr.NodesBusy, "fake oracle: forced failure")
	}
	members := candidate.List()
	if len(members) < min {
		return oracle.Result{}, selecterr.New(selecterr.NodesBusy, "fake oracle: only %d available, need %d", len(members), min)
	}
	want := req
	if want <= 0 || want > len(members) {
		want = len(members)
	}
	return oracle.Result{Selected: bitmap.New(members[:want]...)}, nil
}

// overSelectingOracle always returns the entire candidate it is given,
// regardless of req -- standing in for an oracle bug that over-selects
// (spec.md §4.6 step 3.d / §9 open question 2) so tests can confirm
// the picker abandons the affected alternative and moves on rather
// than reporting a bogus zero-node success.
type overSelectingOracle struct{}

func (o *overSelectingOracle) SelectJobTest(ctx context.Context, j *job.Job, candidate bitmap.Set, min, max, req int, mode oracle.Mode, preemptCandidates []job.ID) (oracle.Result, error) {
	if bitmap.Count(candidate) < min {
		return oracle.Result{}, selecterr.New(selecterr.NodesBusy, "overSelectingOracle: only %d available, need %d", bitmap.Count(candidate), min)
	}
	return oracle.Result{Selected: candidate}, nil
}

func (o *overSelectingOracle) SelectJobBegin(ctx context.Context, j *job.Job) error { return nil }
func (o *overSelectingOracle) SelectJobFini(ctx context.Context, j *job.Job) error  { return nil }
func (o *overSelectingOracle) GetInfo(ctx context.Context, q oracle.Query) (interface{}, error) {
	return false, nil
}

func (f *fakeOracle) SelectJobBegin(ctx context.Context, j *job.Job) error { return nil }
func (f *fakeOracle) SelectJobFini(ctx context.Context, j *job.Job) error  { return nil }
func (f *fakeOracle) GetInfo(ctx context.Context, q oracle.Query) (interface{}, error) {
	return false, nil
}

func freeState(members bitmap.Set) *clusterstate.State {
	return &clusterstate.State{
		All:      members,
		Avail:    members,
		Idle:     members,
		Sharable: members,
	}
}

// TestPickFeatureXORNeverMixesAlternatives is scenario S1: nodes {0,1}
// carry fs1, {2,3} carry fs2; a job asking [fs1|fs2] for 2 nodes must
// succeed with exactly one alternative, never a mix of both.
func TestPickFeatureXORNeverMixesAlternatives(t *testing.T) {
	sets := []nodeset.Set{
		{Weight: 0, FeatureBits: 0x1, Members: bitmap.New(0, 1)},
		{Weight: 0, FeatureBits: 0x2, Members: bitmap.New(2, 3)},
	}
	j := &job.Job{MinNodes: 2, MaxNodes: 2, ReqNodes: 2}
	state := freeState(bitmap.New(0, 1, 2, 3))

	res, err := Pick(context.Background(), sets, j, state, Bounds{Min: 2, Max: 2, Req: 2}, sharing.NoShare, false, false, nil, &fakeOracle{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != selecterr.Success {
		t.Fatalf("expected SUCCESS, got %v", res.Status)
	}
	alt0 := bitmap.New(0, 1)
	alt1 := bitmap.New(2, 3)
	if !(bitmap.Superset(alt0, res.Selected) || bitmap.Superset(alt1, res.Selected)) {
		t.Errorf("selected %v spans both alternatives, want exactly one", res.Selected.List())
	}
}

// TestPickDiagnosisOrderingInfeasibleConfig is spec.md §8 property 9's
// first clause: when the configured (ever-matching) population is
// smaller than min, the diagnosis is INFEASIBLE_CONFIG.
func TestPickDiagnosisOrderingInfeasibleConfig(t *testing.T) {
	sets := []nodeset.Set{
		{Weight: 0, FeatureBits: 0x1, Members: bitmap.New(0)},
	}
	j := &job.Job{MinNodes: 3, MaxNodes: 3, ReqNodes: 3}
	state := freeState(bitmap.New(0))

	res, err := Pick(context.Background(), sets, j, state, Bounds{Min: 3, Max: 3, Req: 3}, sharing.NoShare, false, false, nil, &fakeOracle{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if res.Status != selecterr.InfeasibleConfig {
		t.Errorf("expected INFEASIBLE_CONFIG, got %v", res.Status)
	}
}

// TestPickDiagnosisOrderingNodesBusy is spec.md §8 property 9's second
// clause: the configured population meets min and is up (in Avail),
// but not currently idle/sharable -- the immediate pick fails while
// the coarser runnable-available probe (over the whole Avail
// population, independent of sharing) still succeeds, yielding
// NODES_BUSY rather than INFEASIBLE_CONFIG.
func TestPickDiagnosisOrderingNodesBusy(t *testing.T) {
	sets := []nodeset.Set{
		{Weight: 0, FeatureBits: 0x1, Members: bitmap.New(0, 1)},
	}
	j := &job.Job{MinNodes: 2, MaxNodes: 2, ReqNodes: 2}
	// Both nodes are up (Avail) but another job occupies them
	// exclusively, so neither is Idle/Sharable right now.
	state := &clusterstate.State{
		All:      bitmap.New(0, 1),
		Avail:    bitmap.New(0, 1),
		Idle:     bitmap.Empty(),
		Sharable: bitmap.Empty(),
	}

	res, err := Pick(context.Background(), sets, j, state, Bounds{Min: 2, Max: 2, Req: 2}, sharing.NoShare, false, false, nil, &fakeOracle{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if res.Status != selecterr.NodesBusy {
		t.Errorf("expected NODES_BUSY, got %v", res.Status)
	}
}

// TestPickRequiredSubsetProperty is spec.md §8 property 8: on success
// the selected bitmap is a superset of required and a subset of the
// union of matching node-set bitmaps.
func TestPickRequiredSubsetProperty(t *testing.T) {
	sets := []nodeset.Set{
		{Weight: 0, FeatureBits: 0x1, Members: bitmap.New(0, 1, 2, 3)},
	}
	j := &job.Job{
		MinNodes: 2, MaxNodes: 4, ReqNodes: 2,
		RequiredNodes: bitmap.New(1), HasRequired: true,
	}
	state := freeState(bitmap.New(0, 1, 2, 3))

	res, err := Pick(context.Background(), sets, j, state, Bounds{Min: 2, Max: 4, Req: 2}, sharing.NoShare, false, false, nil, &fakeOracle{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bitmap.Superset(res.Selected, j.RequiredNodes) {
		t.Errorf("selected %v does not contain required node 1", res.Selected.List())
	}
	if !bitmap.Superset(bitmap.New(0, 1, 2, 3), res.Selected) {
		t.Errorf("selected %v escapes the union of matching sets", res.Selected.List())
	}
}

func TestPickRequiredNodeNotAvailReturnsPermanentDiagnosis(t *testing.T) {
	sets := []nodeset.Set{
		{Weight: 0, FeatureBits: 0x1, Members: bitmap.New(0, 1)},
	}
	j := &job.Job{
		MinNodes: 1, MaxNodes: 2, ReqNodes: 1,
		RequiredNodes: bitmap.New(5), HasRequired: true,
	}
	// Node 5 (required) isn't even in the cluster's All population: a
	// drained/unknown required node.
	state := &clusterstate.State{
		All:      bitmap.New(0, 1),
		Avail:    bitmap.New(0, 1),
		Idle:     bitmap.New(0, 1),
		Sharable: bitmap.New(0, 1),
	}

	res, err := Pick(context.Background(), sets, j, state, Bounds{Min: 1, Max: 2, Req: 1}, sharing.NoShare, false, false, nil, &fakeOracle{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if res.Status != selecterr.NodeNotAvail {
		t.Errorf("expected NODE_NOT_AVAIL, got %v", res.Status)
	}
	se, ok := err.(*selecterr.Error)
	if !ok {
		t.Fatalf("expected *selecterr.Error, got %T", err)
	}
	if !se.RequiredDrained {
		t.Error("expected RequiredDrained to be set for a required node outside All")
	}
}

func TestPickPartConfigUnavailableWhenNodesAreDown(t *testing.T) {
	sets := []nodeset.Set{
		{Weight: 0, FeatureBits: 0x1, Members: bitmap.New(0, 1)},
	}
	j := &job.Job{MinNodes: 2, MaxNodes: 2, ReqNodes: 2}
	// Both nodes are configured (total) but neither is in Avail at all
	// (both down): the request can only ever run here, never right
	// now, so the diagnosis is the informational
	// PART_CONFIG_UNAVAILABLE, not NODES_BUSY.
	state := &clusterstate.State{
		All:      bitmap.New(0, 1),
		Avail:    bitmap.Empty(),
		Idle:     bitmap.Empty(),
		Sharable: bitmap.Empty(),
	}

	res, err := Pick(context.Background(), sets, j, state, Bounds{Min: 2, Max: 2, Req: 2}, sharing.NoShare, false, false, nil, &fakeOracle{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if res.Status != selecterr.PartConfigUnavailable {
		t.Errorf("expected PART_CONFIG_UNAVAILABLE, got %v", res.Status)
	}
}

// TestPickOverSelectionAbandonsAlternativeAndContinues guards against
// a control-flow regression: when the oracle over-selects past max for
// one XOR alternative, Pick must abandon just that alternative and
// keep trying the rest, not report a bogus zero-node SUCCESS.
func TestPickOverSelectionAbandonsAlternativeAndContinues(t *testing.T) {
	sets := []nodeset.Set{
		{Weight: 0, FeatureBits: 0x1, Members: bitmap.New(0, 1)},
		{Weight: 1, FeatureBits: 0x2, Members: bitmap.New(2)},
	}
	j := &job.Job{MinNodes: 1, MaxNodes: 1, ReqNodes: 1}
	state := freeState(bitmap.New(0, 1, 2))

	res, err := Pick(context.Background(), sets, j, state, Bounds{Min: 1, Max: 1, Req: 1}, sharing.NoShare, false, false, nil, &overSelectingOracle{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != selecterr.Success {
		t.Fatalf("expected SUCCESS from the second alternative, got %v", res.Status)
	}
	if !res.Selected.Equals(bitmap.New(2)) {
		t.Errorf("expected the over-selected first alternative to be abandoned and node 2 picked instead, got %v", res.Selected.List())
	}
}
