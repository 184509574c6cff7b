package service

import (
	"testing"

	"speakedu_backend/internal/model"
)

func analyzedItem(overall float64) model.ItemProgress {
	return model.ItemProgress{
		AudioRef:       "ref",
		OverallScore:   overall,
		AnalysisStatus: model.AnalysisAnalyzed,
	}
}

func TestUnitScore(t *testing.T) {
	items := []model.ItemProgress{
		analyzedItem(80),
		analyzedItem(90),
		{AudioRef: "ref", AnalysisStatus: model.AnalysisFailed, OverallScore: 999}, // 未评分不计入
	}
	if got := UnitScore(items); got != 85 {
		t.Fatalf("got %v, want 85", got)
	}
}

func TestUnitScore_NoAnalyzedItems(t *testing.T) {
	if got := UnitScore(nil); got != 0 {
		t.Fatalf("got %v, want 0", got)
	}
	if got := UnitScore([]model.ItemProgress{{AnalysisStatus: model.AnalysisRecorded}}); got != 0 {
		t.Fatalf("got %v, want 0", got)
	}
}

func TestReviewOutcome(t *testing.T) {
	cases := []struct {
		name            string
		flags           []model.PassFlag
		wantAllReviewed bool
		wantAnyFail     bool
	}{
		{"all pass", []model.PassFlag{model.PassOK, model.PassOK}, true, false},
		{"one fail", []model.PassFlag{model.PassOK, model.PassFail}, true, true},
		{"unreviewed remains", []model.PassFlag{model.PassOK, model.PassUnset}, false, false},
		{"fail and unreviewed", []model.PassFlag{model.PassFail, model.PassUnset}, false, true},
		{"empty", nil, true, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var progresses []model.ContentProgress
			for _, f := range c.flags {
				progresses = append(progresses, model.ContentProgress{PassFlag: f})
			}
			allReviewed, anyFail := ReviewOutcome(progresses)
			if allReviewed != c.wantAllReviewed || anyFail != c.wantAnyFail {
				t.Fatalf("got (%v,%v), want (%v,%v)", allReviewed, anyFail, c.wantAllReviewed, c.wantAnyFail)
			}
		})
	}
}

func TestAggregateScore(t *testing.T) {
	progresses := []model.ContentProgress{
		{Score: 80, PassFlag: model.PassOK},
		{Score: 90, PassFlag: model.PassOK},
	}
	if got := AggregateScore(progresses, nil); got != 85 {
		t.Fatalf("got %v, want 85", got)
	}

	override := 72.5
	if got := AggregateScore(progresses, &override); got != 72.5 {
		t.Fatalf("got %v, want override 72.5", got)
	}

	if got := AggregateScore(nil, nil); got != 0 {
		t.Fatalf("got %v, want 0 for empty", got)
	}
}
