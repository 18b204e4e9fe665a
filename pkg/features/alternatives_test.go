package features

import (
	"testing"

	"github.com/clusterctl/nodeselect/pkg/cluster"
	"github.com/clusterctl/nodeselect/pkg/job"
)

func cfgWithFeatures(feats string) *cluster.ConfigRecord {
	return &cluster.ConfigRecord{Features: feats}
}

func TestWidthNoXORIsOne(t *testing.T) {
	terms := []Term{{Name: "gpu", Op: job.And}}
	if got := Width(terms); got != 1 {
		t.Errorf("Width = %d, want 1 for a no-XOR expression", got)
	}
}

func TestWidthCountsAlternatives(t *testing.T) {
	terms := []Term{
		{Name: "fs1", Op: job.And},
		{Name: "fs2", Op: job.Xor},
		{Name: "fs3", Op: job.Xor},
	}
	if got := Width(terms); got != 3 {
		t.Errorf("Width = %d, want 3", got)
	}
}

// TestValidFeaturesXORCompleteness is spec.md §8 property 4: bit k set
// iff cfg satisfies the k-th XOR alternative; no bits set iff no
// alternative is satisfied.
func TestValidFeaturesXORCompleteness(t *testing.T) {
	terms := []Term{
		{Name: "fs1", Op: job.And},
		{Name: "fs2", Op: job.Xor},
	}

	cases := []struct {
		name string
		cfg  *cluster.ConfigRecord
		want uint64
	}{
		{"alternative 0 only", cfgWithFeatures("fs1"), 0x1},
		{"alternative 1 only", cfgWithFeatures("fs2"), 0x2},
		{"both alternatives present", cfgWithFeatures("fs1,fs2"), 0x3},
		{"neither alternative present", cfgWithFeatures("other"), 0x0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ValidFeatures(terms, c.cfg)
			if got != c.want {
				t.Errorf("ValidFeatures = %#x, want %#x", got, c.want)
			}
		})
	}
}

func TestValidFeaturesORWithinGroup(t *testing.T) {
	// A single alternative group mixing a required AND term with an OR
	// term: the group needs both "a" present and at least one OR member.
	terms := []Term{
		{Name: "a", Op: job.And},
		{Name: "b", Op: job.Or},
	}
	if got := ValidFeatures(terms, cfgWithFeatures("a,b")); got != 0x1 {
		t.Errorf("expected alternative satisfied with both terms present, got %#x", got)
	}
	if got := ValidFeatures(terms, cfgWithFeatures("b")); got != 0x0 {
		// The AND term "a" is required: absent "a" must fail the group
		// even though the OR term "b" is present.
		t.Errorf("expected AND term absence to fail the group, got %#x", got)
	}
	if got := ValidFeatures(terms, cfgWithFeatures("a")); got != 0x0 {
		// "a" alone doesn't satisfy the OR member requirement.
		t.Errorf("expected missing OR member to fail the group, got %#x", got)
	}
}

func TestValidFeaturesNoTermsTriviallySatisfied(t *testing.T) {
	if got := ValidFeatures(nil, cfgWithFeatures("anything")); got != 0x1 {
		t.Errorf("ValidFeatures(nil terms) = %#x, want bit 0 set", got)
	}
}
