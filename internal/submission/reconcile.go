package submission

import (
	"errors"

	"github.com/mkivela/lmsc/internal/model"
)

// ErrNotTerminal reports a waiting record handed to the reconciler. That is
// a defect in the poller, never a valid input.
var ErrNotTerminal = errors.New("waiting submission passed to reconciler")

// OutcomeKind is the UI-facing classification of a terminal record.
type OutcomeKind string

const (
	// OutcomeSuccess is a graded questionnaire: previously shown validation
	// errors are cleared and per-field points displayed.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeRejected carries per-field validation errors to render inline.
	OutcomeRejected OutcomeKind = "rejected"
	// OutcomeFile is a graded code submission: no banner, the feedback and
	// code views re-render instead.
	OutcomeFile OutcomeKind = "file"
)

// Outcome is the reconciled result of one terminal submission.
type Outcome struct {
	Kind             OutcomeKind
	Record           *model.SubmissionRecord
	ValidationErrors map[string][]string
	FieldPoints      map[string]model.FieldPoints
	Feedback         string
}

// Reconcile maps a terminal record to exactly one outcome and then invokes
// refresh, unconditionally, so the UI re-fetches submission counters and
// point totals instead of trusting client-side optimism.
func Reconcile(rec *model.SubmissionRecord, refresh func()) (*Outcome, error) {
	if !rec.Terminal() {
		return nil, ErrNotTerminal
	}
	defer func() {
		if refresh != nil {
			refresh()
		}
	}()

	out := &Outcome{Record: rec}
	switch rec.Variant() {
	case model.VariantRejected:
		out.Kind = OutcomeRejected
		out.ValidationErrors = rejectionErrors(rec.FeedbackJSON)
		out.Feedback = rec.Feedback
	case model.VariantFile:
		out.Kind = OutcomeFile
		out.Feedback = rec.Feedback
	default:
		out.Kind = OutcomeSuccess
		out.ValidationErrors = map[string][]string{}
		if rec.FeedbackJSON != nil {
			out.FieldPoints = rec.FeedbackJSON.FieldsPoints
		}
	}
	return out, nil
}

// rejectionErrors picks the populated error map of a rejection: the normal
// validation_errors shape, or error_fields in the course-grading-error
// variant.
func rejectionErrors(fb *model.FeedbackJSON) map[string][]string {
	if fb == nil {
		return map[string][]string{}
	}
	if len(fb.ValidationErrors) > 0 {
		return fb.ValidationErrors
	}
	if len(fb.ErrorFields) > 0 {
		return fb.ErrorFields
	}
	return map[string][]string{}
}
