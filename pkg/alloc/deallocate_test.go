package alloc

import (
	"context"
	"testing"

	"github.com/clusterctl/nodeselect/pkg/agentsubmit"
	"github.com/clusterctl/nodeselect/pkg/bitmap"
	"github.com/clusterctl/nodeselect/pkg/cluster"
	"github.com/clusterctl/nodeselect/pkg/clusterstate"
	"github.com/clusterctl/nodeselect/pkg/job"
	"github.com/clusterctl/nodeselect/pkg/licensing"
)

// TestDeallocateSkipsAlreadyDownNodes is spec.md §8 property 7: a node
// that is already DOWN never transitions through COMPLETING and never
// waits on an agent acknowledgement.
func TestDeallocateSkipsAlreadyDownNodes(t *testing.T) {
	state := clusterstate.New()
	state.RegisterNode(&cluster.Node{Index: 0, State: cluster.Allocated, RunningJobs: 1})
	state.RegisterNode(&cluster.Node{Index: 1, State: cluster.Down})
	sub := &fakeSubmitter{}
	d := &Driver{State: state, Oracle: &fakeOracle{}, Licenses: licensing.NoOp{}, Submitter: sub}

	j := &job.Job{ID: 5}
	if err := d.Deallocate(context.Background(), j, bitmap.New(0, 1), TerminationRegular); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if state.Nodes[0].State != cluster.Completing {
		t.Errorf("node 0 should transition to COMPLETING, got %v", state.Nodes[0].State)
	}
	if state.Nodes[1].State != cluster.Down {
		t.Errorf("node 1 (already down) should stay DOWN, got %v", state.Nodes[1].State)
	}
	if len(sub.calls) != 1 {
		t.Fatalf("expected exactly 1 submit call (for node 0 only), got %d: %+v", len(sub.calls), sub.calls)
	}
	if len(sub.calls[0].hosts) != 1 || sub.calls[0].hosts[0] != 0 {
		t.Errorf("expected the submit to target only node 0, got %+v", sub.calls[0].hosts)
	}
}

// TestDeallocateAllNodesDownSendsNoAgentMessage is the degenerate case
// of property 7: if every node in the allocated bitmap is already
// down, Deallocate still releases licenses and calls job_fini, but
// submits no agent message at all.
func TestDeallocateAllNodesDownSendsNoAgentMessage(t *testing.T) {
	state := clusterstate.New()
	state.RegisterNode(&cluster.Node{Index: 0, State: cluster.Down})
	sub := &fakeSubmitter{}
	orc := &fakeOracle{}
	d := &Driver{State: state, Oracle: orc, Licenses: licensing.NoOp{}, Submitter: sub}

	j := &job.Job{ID: 6}
	if err := d.Deallocate(context.Background(), j, bitmap.New(0), TerminationRegular); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.calls) != 0 {
		t.Errorf("expected no agent submission when every node is already down, got %+v", sub.calls)
	}
}

func TestDeallocateUsesPreemptedKillMessageType(t *testing.T) {
	state := clusterstate.New()
	state.RegisterNode(&cluster.Node{Index: 0, State: cluster.Allocated, RunningJobs: 1})
	sub := &fakeSubmitter{}
	d := &Driver{State: state, Oracle: &fakeOracle{}, Licenses: licensing.NoOp{}, Submitter: sub}

	if err := d.Deallocate(context.Background(), &job.Job{ID: 7}, bitmap.New(0), TerminationPreempted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.calls) != 1 || sub.calls[0].msgType != agentsubmit.KillPreempted {
		t.Errorf("expected a KillPreempted submit, got %+v", sub.calls)
	}
}

// TestReKillExcludesDownAndNoRespondNodes mirrors the original's
// re_kill_job targeting rule.
func TestReKillExcludesDownAndNoRespondNodes(t *testing.T) {
	state := clusterstate.New()
	state.RegisterNode(&cluster.Node{Index: 0, State: cluster.Completing})
	state.RegisterNode(&cluster.Node{Index: 1, State: cluster.Down})
	state.RegisterNode(&cluster.Node{Index: 2, State: cluster.Completing, NoRespondFlag: true})
	sub := &fakeSubmitter{}
	d := &Driver{State: state, Oracle: &fakeOracle{}, Licenses: licensing.NoOp{}, Submitter: sub}

	if err := d.ReKill(context.Background(), bitmap.New(0, 1, 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.calls) != 1 || len(sub.calls[0].hosts) != 1 || sub.calls[0].hosts[0] != 0 {
		t.Errorf("expected ReKill to target only node 0, got %+v", sub.calls)
	}
}
