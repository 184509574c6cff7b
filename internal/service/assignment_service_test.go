package service

import (
	"errors"
	"testing"

	"speakedu_backend/internal/model"
	"speakedu_backend/internal/util"
)

func TestUnassignDecision(t *testing.T) {
	cases := []struct {
		name       string
		status     model.AssignmentStatus
		confirm    bool
		wantAction UnassignAction
		wantErr    error
	}{
		{"untouched is hard-deleted", model.StatusNotStarted, false, UnassignHardDelete, nil},
		{"in progress needs confirm", model.StatusInProgress, false, UnassignRefuse, util.ErrConfirmRequired},
		{"in progress confirmed is soft-deleted", model.StatusInProgress, true, UnassignSoftDelete, nil},
		{"submitted is protected", model.StatusSubmitted, true, UnassignRefuse, util.ErrWorkProtected},
		{"returned is protected", model.StatusReturned, true, UnassignRefuse, util.ErrWorkProtected},
		{"resubmitted is protected", model.StatusResubmitted, true, UnassignRefuse, util.ErrWorkProtected},
		{"graded is protected", model.StatusGraded, true, UnassignRefuse, util.ErrWorkProtected},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			action, err := UnassignDecision(c.status, c.confirm)
			if action != c.wantAction {
				t.Fatalf("got action %d, want %d", action, c.wantAction)
			}
			if !errors.Is(err, c.wantErr) {
				t.Fatalf("got err %v, want %v", err, c.wantErr)
			}
		})
	}
}
