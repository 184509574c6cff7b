package model

import "testing"

func TestCanTransition_MainChain(t *testing.T) {
	chain := []AssignmentStatus{StatusNotStarted, StatusInProgress, StatusSubmitted, StatusGraded}
	for i := 0; i < len(chain)-1; i++ {
		if !chain[i].CanTransition(chain[i+1]) {
			t.Fatalf("expected %s -> %s to be legal", chain[i], chain[i+1])
		}
	}
}

func TestCanTransition_CorrectionLoop(t *testing.T) {
	cases := []struct {
		from, to AssignmentStatus
	}{
		{StatusSubmitted, StatusReturned},
		{StatusGraded, StatusReturned},
		{StatusReturned, StatusResubmitted},
		{StatusResubmitted, StatusGraded},
		{StatusResubmitted, StatusReturned},
	}
	for _, c := range cases {
		if !c.from.CanTransition(c.to) {
			t.Fatalf("expected %s -> %s to be legal", c.from, c.to)
		}
	}
}

func TestCanTransition_RejectsIllegalEdges(t *testing.T) {
	cases := []struct {
		from, to AssignmentStatus
	}{
		{StatusNotStarted, StatusSubmitted},
		{StatusNotStarted, StatusGraded},
		{StatusInProgress, StatusGraded},
		{StatusInProgress, StatusNotStarted},
		{StatusSubmitted, StatusInProgress},
		{StatusSubmitted, StatusSubmitted},
		{StatusGraded, StatusInProgress},
		{StatusGraded, StatusGraded},
		{StatusReturned, StatusSubmitted},
		{StatusReturned, StatusGraded},
		{StatusResubmitted, StatusInProgress},
	}
	for _, c := range cases {
		if c.from.CanTransition(c.to) {
			t.Fatalf("expected %s -> %s to be illegal", c.from, c.to)
		}
	}
}

func TestCanTransition_NoEdgeEverLeavesTheGraph(t *testing.T) {
	all := []AssignmentStatus{
		StatusNotStarted, StatusInProgress, StatusSubmitted,
		StatusGraded, StatusReturned, StatusResubmitted,
	}
	for _, from := range all {
		for _, to := range assignmentTransitions[from] {
			if !to.Valid() {
				t.Fatalf("transition target %s of %s is not a valid status", to, from)
			}
		}
	}
}

func TestSubmittable(t *testing.T) {
	if !StatusInProgress.Submittable() || !StatusReturned.Submittable() {
		t.Fatal("in_progress and returned must be submittable")
	}
	for _, s := range []AssignmentStatus{StatusNotStarted, StatusSubmitted, StatusGraded, StatusResubmitted} {
		if s.Submittable() {
			t.Fatalf("%s must not be submittable", s)
		}
	}
}

func TestReviewable(t *testing.T) {
	if !StatusSubmitted.Reviewable() || !StatusResubmitted.Reviewable() {
		t.Fatal("submitted and resubmitted must be reviewable")
	}
	for _, s := range []AssignmentStatus{StatusNotStarted, StatusInProgress, StatusGraded, StatusReturned} {
		if s.Reviewable() {
			t.Fatalf("%s must not be reviewable", s)
		}
	}
}

func TestProtectsWork(t *testing.T) {
	protected := []AssignmentStatus{StatusSubmitted, StatusGraded, StatusReturned, StatusResubmitted}
	for _, s := range protected {
		if !s.ProtectsWork() {
			t.Fatalf("%s must protect submitted work", s)
		}
	}
	for _, s := range []AssignmentStatus{StatusNotStarted, StatusInProgress} {
		if s.ProtectsWork() {
			t.Fatalf("%s must not protect work", s)
		}
	}
}
