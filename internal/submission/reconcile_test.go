package submission

import (
	"errors"
	"reflect"
	"testing"

	"github.com/mkivela/lmsc/internal/model"
)

func TestReconcileWaitingIsDefect(t *testing.T) {
	_, err := Reconcile(record(model.StatusWaiting), func() {
		t.Fatal("refresh must not run for a waiting record")
	})
	if !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal, got %v", err)
	}
}

func TestReconcileRejectedValidationErrors(t *testing.T) {
	want := map[string][]string{"answer": {"too short", "must be numeric"}}
	rec := record(model.StatusRejected)
	rec.Feedback = "fix your answer"
	rec.FeedbackJSON = &model.FeedbackJSON{ValidationErrors: want}

	out, err := Reconcile(rec, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if out.Kind != OutcomeRejected {
		t.Fatalf("expected rejected outcome, got %q", out.Kind)
	}
	if !reflect.DeepEqual(out.ValidationErrors, want) {
		t.Errorf("validation errors = %v, want %v", out.ValidationErrors, want)
	}
	if out.Feedback != "fix your answer" {
		t.Errorf("feedback = %q", out.Feedback)
	}
}

func TestReconcileRejectedErrorFields(t *testing.T) {
	want := map[string][]string{"__all__": {"course grading failed"}}
	rec := record(model.StatusError)
	rec.FeedbackJSON = &model.FeedbackJSON{ErrorFields: want}

	out, err := Reconcile(rec, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if out.Kind != OutcomeRejected {
		t.Fatalf("expected rejected outcome for status error, got %q", out.Kind)
	}
	if !reflect.DeepEqual(out.ValidationErrors, want) {
		t.Errorf("validation errors = %v, want %v", out.ValidationErrors, want)
	}
}

func TestReconcileRejectedNoFeedbackJSON(t *testing.T) {
	out, err := Reconcile(record(model.StatusRejected), nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if out.ValidationErrors == nil || len(out.ValidationErrors) != 0 {
		t.Errorf("expected empty non-nil error map, got %v", out.ValidationErrors)
	}
}

func TestReconcileFileSubmission(t *testing.T) {
	rec := record(model.StatusReady)
	rec.Grade = 80
	rec.Feedback = "well done"
	rec.Files = []model.SubmittedFile{{ID: 1, Filename: "main.go"}}

	out, err := Reconcile(rec, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if out.Kind != OutcomeFile {
		t.Fatalf("expected file outcome, got %q", out.Kind)
	}
	if out.Feedback != "well done" {
		t.Errorf("feedback = %q", out.Feedback)
	}
}

func TestReconcileQuestionnaireSuccess(t *testing.T) {
	rec := record(model.StatusReady)
	rec.FeedbackJSON = &model.FeedbackJSON{
		FieldsPoints: map[string]model.FieldPoints{
			"q1": {Points: 2, MaxPoints: 2},
		},
	}

	out, err := Reconcile(rec, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if out.Kind != OutcomeSuccess {
		t.Fatalf("expected success outcome, got %q", out.Kind)
	}
	// Success clears any previously shown validation errors.
	if out.ValidationErrors == nil || len(out.ValidationErrors) != 0 {
		t.Errorf("expected empty non-nil error map, got %v", out.ValidationErrors)
	}
	if out.FieldPoints["q1"].Points != 2 {
		t.Errorf("field points = %v", out.FieldPoints)
	}
}

func TestReconcileRefreshRunsForEveryTerminalOutcome(t *testing.T) {
	for _, status := range []model.SubmissionStatus{
		model.StatusReady, model.StatusRejected, model.StatusError,
	} {
		refreshed := 0
		if _, err := Reconcile(record(status), func() { refreshed++ }); err != nil {
			t.Fatalf("Reconcile(%s): %v", status, err)
		}
		if refreshed != 1 {
			t.Errorf("status %s: refresh ran %d times, want 1", status, refreshed)
		}
	}
}
