package nodeset

import (
	"testing"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/clusterctl/nodeselect/pkg/bitmap"
	"github.com/clusterctl/nodeselect/pkg/cluster"
	"github.com/clusterctl/nodeselect/pkg/job"
	"github.com/clusterctl/nodeselect/pkg/partition"
	"github.com/clusterctl/nodeselect/pkg/selecterr"
)

func allPartition(members bitmap.Set) *partition.Partition {
	return &partition.Partition{Name: "default", Members: members, MaxNodes: 1024}
}

// TestBuildWeightMonotonicity is spec.md §8 property 1: for any built
// node-set list, set[i].Weight <= set[i+1].Weight.
func TestBuildWeightMonotonicity(t *testing.T) {
	cfgs := []*cluster.ConfigRecord{
		{Index: 1, Weight: 5, Members: bitmap.New(0, 1)},
		{Index: 2, Weight: 1, Members: bitmap.New(2, 3)},
		{Index: 3, Weight: 3, Members: bitmap.New(4, 5)},
	}
	all := bitmap.New(0, 1, 2, 3, 4, 5)
	b := &Builder{}

	sets, err := b.Build(cfgs, &job.Job{}, allPartition(all), nil, all, bitmap.Empty(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(sets); i++ {
		if sets[i-1].Weight > sets[i].Weight {
			t.Fatalf("sets not weight-sorted: %+v", sets)
		}
	}
	if len(sets) != 3 || sets[0].Weight != 1 || sets[1].Weight != 3 || sets[2].Weight != 5 {
		t.Errorf("unexpected weight order: %+v", sets)
	}
}

// TestSplitPoweredDownPenalty is spec.md §8 property 2: every
// powered-down node's effective weight exceeds every powered-up node's
// weight.
func TestSplitPoweredDownPenalty(t *testing.T) {
	cfgs := []*cluster.ConfigRecord{
		{Index: 1, Weight: 1, Members: bitmap.New(0, 1)}, // fully powered up
		{Index: 2, Weight: 5, Members: bitmap.New(2, 3)}, // fully powered down
		{Index: 3, Weight: 2, Members: bitmap.New(4, 5)}, // mixed
	}
	all := bitmap.New(0, 1, 2, 3, 4, 5)
	poweredDown := bitmap.New(2, 3, 5)
	b := &Builder{}

	sets, err := b.Build(cfgs, &job.Job{}, allPartition(all), nil, all, poweredDown, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var upWeights, downWeights []int
	for _, s := range sets {
		if bitmap.Overlap(s.Members, poweredDown) {
			downWeights = append(downWeights, s.Weight)
		} else {
			upWeights = append(upWeights, s.Weight)
		}
	}
	if len(upWeights) == 0 || len(downWeights) == 0 {
		t.Fatalf("expected both powered-up and powered-down sets, got up=%v down=%v", upWeights, downWeights)
	}
	for _, dw := range downWeights {
		for _, uw := range upWeights {
			if dw <= uw {
				t.Errorf("powered-down weight %d does not exceed powered-up weight %d", dw, uw)
			}
		}
	}
}

func TestSplitPoweredDownMixedSetSplitsInTwo(t *testing.T) {
	cfgs := []*cluster.ConfigRecord{
		{Index: 1, Weight: 2, Members: bitmap.New(0, 1, 2)},
	}
	all := bitmap.New(0, 1, 2)
	poweredDown := bitmap.New(1)
	b := &Builder{}

	sets, err := b.Build(cfgs, &job.Job{}, allPartition(all), nil, all, poweredDown, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sets) != 2 {
		t.Fatalf("expected the mixed set to split into 2, got %d: %+v", len(sets), sets)
	}
	for _, s := range sets {
		if bitmap.Overlap(s.Members, poweredDown) {
			if s.Weight != 4 { // base weight 2 + maxWeight 2
				t.Errorf("powered-down half weight = %d, want 4", s.Weight)
			}
			if !s.Members.Equals(bitmap.New(1)) {
				t.Errorf("powered-down half members = %v, want {1}", s.Members.List())
			}
		} else {
			if s.Weight != 2 {
				t.Errorf("powered-up half weight = %d, want 2", s.Weight)
			}
			if !s.Members.Equals(bitmap.New(0, 2)) {
				t.Errorf("powered-up half members = %v, want {0,2}", s.Members.List())
			}
		}
	}
}

func TestBuildScalarFilterRejectsUndersizedConfig(t *testing.T) {
	cfgs := []*cluster.ConfigRecord{
		{Index: 1, Weight: 1, CPUs: 2, Members: bitmap.New(0, 1)},
		{Index: 2, Weight: 1, CPUs: 8, Members: bitmap.New(2, 3)},
	}
	all := bitmap.New(0, 1, 2, 3)
	b := &Builder{}

	j := &job.Job{MinCPUsPerNode: 4}
	sets, err := b.Build(cfgs, j, allPartition(all), nil, all, bitmap.Empty(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sets) != 1 || !sets[0].Members.Equals(bitmap.New(2, 3)) {
		t.Fatalf("expected only the 8-CPU config to survive, got %+v", sets)
	}
}

func TestBuildScalarFilterNoValNeverFails(t *testing.T) {
	cfgs := []*cluster.ConfigRecord{
		{Index: 1, Weight: 1, Sockets: 1, Members: bitmap.New(0, 1)},
	}
	all := bitmap.New(0, 1)
	b := &Builder{}

	// Sockets == NoVal means "unspecified": must not reject the config
	// even though cfg.Sockets (1) is less than some hypothetical
	// positive minimum.
	j := &job.Job{Sockets: NoVal, Cores: NoVal, Threads: NoVal}
	sets, err := b.Build(cfgs, j, allPartition(all), nil, all, bitmap.Empty(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sets) != 1 {
		t.Fatalf("expected NoVal topology minima to never fail the filter, got %+v", sets)
	}
}

func TestBuildPerCPUMemoryScaling(t *testing.T) {
	cfgs := []*cluster.ConfigRecord{
		{Index: 1, Weight: 1, RealMemory: resource.MustParse("8Gi"), Members: bitmap.New(0)},
	}
	all := bitmap.New(0)
	b := &Builder{}

	// 4 CPUs * 2Gi/CPU = 8Gi, exactly at the config's maximum: should
	// pass.
	j := &job.Job{MinCPUsPerNode: 4, RealMemory: resource.MustParse("2Gi"), PerCPUMemory: true}
	sets, err := b.Build(cfgs, j, allPartition(all), nil, all, bitmap.Empty(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sets) != 1 {
		t.Fatalf("expected per-CPU memory scaling of exactly the maximum to pass, got %+v", sets)
	}

	// 4 CPUs * 3Gi/CPU = 12Gi, over the config's maximum: should be
	// rejected under fast-schedule.
	j2 := &job.Job{MinCPUsPerNode: 4, RealMemory: resource.MustParse("3Gi"), PerCPUMemory: true}
	sets2, err := b.Build(cfgs, j2, allPartition(all), nil, all, bitmap.Empty(), true)
	if err == nil {
		t.Fatalf("expected INFEASIBLE_CONFIG, got sets %+v", sets2)
	}
}

func TestBuildUsableMaskIntersection(t *testing.T) {
	cfgs := []*cluster.ConfigRecord{
		{Index: 1, Weight: 1, Members: bitmap.New(0, 1, 2)},
	}
	all := bitmap.New(0, 1, 2)
	// usable excludes node 1 (e.g. reservation/excluded-node overlay).
	usable := bitmap.New(0, 2)
	b := &Builder{}

	sets, err := b.Build(cfgs, &job.Job{}, allPartition(all), nil, usable, bitmap.Empty(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sets) != 1 || !sets[0].Members.Equals(bitmap.New(0, 2)) {
		t.Fatalf("expected usable mask to drop node 1, got %+v", sets)
	}
}

func TestBuildNoSurvivingSetIsInfeasibleConfig(t *testing.T) {
	cfgs := []*cluster.ConfigRecord{
		{Index: 1, Weight: 1, CPUs: 1, Members: bitmap.New(0)},
	}
	all := bitmap.New(0)
	b := &Builder{}

	j := &job.Job{MinCPUsPerNode: 99}
	_, err := b.Build(cfgs, j, allPartition(all), nil, all, bitmap.Empty(), true)
	if err == nil {
		t.Fatal("expected an error when no configuration survives the filter")
	}
}

// TestBuildFeatureCountFailureIsInfeasibleFeatures exercises spec.md
// §4.2's count pass from Build: a job asking for 4 nodes with feature
// "gpu" when the registry only knows 3 must surface InfeasibleFeatures,
// not silently fall through to InfeasibleConfig/NodesBusy.
func TestBuildFeatureCountFailureIsInfeasibleFeatures(t *testing.T) {
	cfgs := []*cluster.ConfigRecord{
		{Index: 1, Weight: 1, Members: bitmap.New(0, 1, 2, 3)},
	}
	all := bitmap.New(0, 1, 2, 3)
	registry := cluster.NewFeatureRegistry()
	registry.Add("gpu", bitmap.New(0, 1, 2))
	b := &Builder{}

	j := &job.Job{Features: []job.FeatureTerm{{Name: "gpu", Op: job.And, Count: 4}}}
	_, err := b.Build(cfgs, j, allPartition(all), registry, all, bitmap.Empty(), true)
	if err == nil {
		t.Fatal("expected an error when the feature count can never be satisfied")
	}
	code, ok := selecterr.CodeOf(err)
	if !ok || code != selecterr.InfeasibleFeatures {
		t.Fatalf("expected InfeasibleFeatures, got %v", err)
	}
}

// TestBuildFeatureCountSatisfiedNarrowsUsable confirms a satisfied
// count term still narrows the usable mask to the feature's bitmap
// (the registry-backed bitmap pass, not just the per-config string
// matching ValidFeatures performs).
func TestBuildFeatureCountSatisfiedNarrowsUsable(t *testing.T) {
	cfgs := []*cluster.ConfigRecord{
		{Index: 1, Weight: 1, Features: "gpu", Members: bitmap.New(0, 1, 2, 3)},
	}
	all := bitmap.New(0, 1, 2, 3)
	registry := cluster.NewFeatureRegistry()
	registry.Add("gpu", bitmap.New(0, 1, 2))
	b := &Builder{}

	j := &job.Job{Features: []job.FeatureTerm{{Name: "gpu", Op: job.And, Count: 2}}}
	sets, err := b.Build(cfgs, j, allPartition(all), registry, all, bitmap.Empty(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sets) != 1 || !sets[0].Members.Equals(bitmap.New(0, 1, 2)) {
		t.Fatalf("expected node 3 (no gpu feature) excluded by the registry-backed usable mask, got %+v", sets)
	}
}

type fakeNodeCounts map[cluster.NodeIndex]cluster.Counts

func (f fakeNodeCounts) Actual(idx cluster.NodeIndex) (cluster.Counts, bool) {
	c, ok := f[idx]
	return c, ok
}

func TestBuildDeferredRefilterHonoursActualCounts(t *testing.T) {
	// Configuration declares 2 CPUs (fails the 4-CPU scalar filter),
	// but node 0's actual counts exceed the declaration -- the deferred
	// C3b re-filter (non-fast-schedule mode) should keep it.
	cfgs := []*cluster.ConfigRecord{
		{Index: 1, Weight: 1, CPUs: 2, Members: bitmap.New(0, 1)},
	}
	all := bitmap.New(0, 1)
	b := &Builder{State: fakeNodeCounts{
		0: {CPUs: 8},
		1: {CPUs: 1},
	}}

	j := &job.Job{MinCPUsPerNode: 4}
	sets, err := b.Build(cfgs, j, allPartition(all), nil, all, bitmap.Empty(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sets) != 1 || !sets[0].Members.Equals(bitmap.New(0)) {
		t.Fatalf("expected only node 0 to survive the deferred re-filter, got %+v", sets)
	}
}

func TestFilterForRequiredNodes(t *testing.T) {
	sets := []Set{
		{Members: bitmap.New(0, 1)},
		{Members: bitmap.New(2, 3)},
	}
	got := FilterForRequiredNodes(sets, bitmap.New(3))
	if len(got) != 1 || !got[0].Members.Equals(bitmap.New(2, 3)) {
		t.Errorf("expected only the overlapping set, got %+v", got)
	}

	// An empty required bitmap is a no-op.
	got = FilterForRequiredNodes(sets, bitmap.Empty())
	if len(got) != 2 {
		t.Errorf("expected no filtering for an empty required bitmap, got %+v", got)
	}
}
