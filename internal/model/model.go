package model

import (
	"strings"
	"time"
)

// Course is one course instance the student is enrolled in.
type Course struct {
	ID           int64  `json:"id" validate:"required,min=1"`
	Name         string `json:"name" validate:"required"`
	InstanceName string `json:"instance_name"`
	Code         string `json:"code"`
}

// UserProfile is the authenticated student as reported by the platform.
type UserProfile struct {
	FullName        string   `json:"full_name" validate:"required"`
	EnrolledCourses []Course `json:"enrolled_courses" validate:"dive"`
}

// LocalizedText is one entry of a form's localization table. Either language
// may be absent, but the server must provide at least one for every key it
// references.
type LocalizedText struct {
	En string `json:"en,omitempty"`
	Fi string `json:"fi,omitempty"`
}

// Empty reports whether neither language is present.
func (l LocalizedText) Empty() bool { return l.En == "" && l.Fi == "" }

// FieldKind tags a form field variant.
type FieldKind string

const (
	FieldRadio    FieldKind = "radio"
	FieldDropdown FieldKind = "dropdown"
	FieldCheckbox FieldKind = "checkbox"
	FieldText     FieldKind = "text"
	FieldNumber   FieldKind = "number"
	FieldTextarea FieldKind = "textarea"
	FieldFile     FieldKind = "file"
	FieldStatic   FieldKind = "static"
)

// Field is one entry of a form specification. Exactly one concrete type
// exists per field kind; rendering dispatches on Kind.
type Field interface {
	Kind() FieldKind
	// FieldKey returns the field's key, unique within one form specification.
	FieldKey() string
}

// ChoiceSpec holds the parts shared by radio, dropdown and checkbox fields.
type ChoiceSpec struct {
	Key         string            `json:"key"`
	Title       string            `json:"title"`
	Required    bool              `json:"required"`
	Description string            `json:"description,omitempty"`
	Options     map[string]string `json:"titleMap"`
	EnumKeys    []string          `json:"enum"`
}

func (c ChoiceSpec) FieldKey() string { return c.Key }

// RadioField selects exactly one option.
type RadioField struct{ ChoiceSpec }

func (RadioField) Kind() FieldKind { return FieldRadio }

// DropdownField selects exactly one option from a dropdown list.
type DropdownField struct{ ChoiceSpec }

func (DropdownField) Kind() FieldKind { return FieldDropdown }

// CheckboxField selects any number of options.
type CheckboxField struct{ ChoiceSpec }

func (CheckboxField) Kind() FieldKind { return FieldCheckbox }

// InputSpec holds the parts shared by text, number and textarea fields.
type InputSpec struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

func (i InputSpec) FieldKey() string { return i.Key }

// TextField is a single-line text input.
type TextField struct{ InputSpec }

func (TextField) Kind() FieldKind { return FieldText }

// NumberField is a numeric input.
type NumberField struct{ InputSpec }

func (NumberField) Kind() FieldKind { return FieldNumber }

// TextareaField is a multi-line text input.
type TextareaField struct{ InputSpec }

func (TextareaField) Kind() FieldKind { return FieldTextarea }

// FileField is a file upload slot. File fields correspond by position to the
// exercise's template resources.
type FileField struct {
	Key   string `json:"key"`
	Title string `json:"title"`
}

func (f FileField) Kind() FieldKind  { return FieldFile }
func (f FileField) FieldKey() string { return f.Key }

// StaticField contributes no input, only rendered text or markup.
type StaticField struct {
	Key         string `json:"key"`
	Description string `json:"description,omitempty"`
}

func (s StaticField) Kind() FieldKind  { return FieldStatic }
func (s StaticField) FieldKey() string { return s.Key }

// FormSpecification is the server-supplied, ordered description of the
// inputs an exercise requires. Field order is rendering order; the first
// field's kind decides whether the exercise takes code files or a
// structured questionnaire.
type FormSpecification struct {
	Fields []Field
	I18n   map[string]LocalizedText
}

// ExerciseSpec is an exercise's submittable shape. Immutable once fetched;
// views re-fetch it rather than merge or patch.
type ExerciseSpec struct {
	ID             int64              `json:"id" validate:"required,min=1"`
	DisplayName    string             `json:"display_name" validate:"required"`
	IsSubmittable  bool               `json:"is_submittable"`
	MaxPoints      int                `json:"max_points" validate:"min=0"`
	MaxSubmissions int                `json:"max_submissions" validate:"min=0"`
	Templates      string             `json:"templates"`
	Form           *FormSpecification `json:"-"`
}

// TemplateURLs splits the whitespace-separated template resource list.
// Order is significant: it corresponds 1:1 by position to the form's file
// fields.
func (e *ExerciseSpec) TemplateURLs() []string {
	return strings.Fields(e.Templates)
}

// SubmissionStatus is the grading status reported for a submission.
type SubmissionStatus string

const (
	StatusWaiting  SubmissionStatus = "waiting"
	StatusReady    SubmissionStatus = "ready"
	StatusRejected SubmissionStatus = "rejected"
	// StatusError is reported when the grading pipeline itself failed; it is
	// handled like a rejection.
	StatusError SubmissionStatus = "error"
)

// SubmissionVariant classifies a submission record into one of the four
// shapes the UI must handle.
type SubmissionVariant string

const (
	VariantWaiting       SubmissionVariant = "waiting"
	VariantRejected      SubmissionVariant = "rejected"
	VariantFile          SubmissionVariant = "file"
	VariantQuestionnaire SubmissionVariant = "questionnaire"
)

// SubmittedFile references one uploaded file of a graded code submission.
type SubmittedFile struct {
	ID       int64  `json:"id" validate:"required,min=1"`
	Filename string `json:"filename" validate:"required"`
	URL      string `json:"url"`
}

// FieldPoints is the per-field score of a graded questionnaire.
type FieldPoints struct {
	Points    int `json:"points" validate:"min=0"`
	MaxPoints int `json:"max_points" validate:"min=0"`
}

// AnswerPair is one submitted [field-key, value] pair.
type AnswerPair [2]string

func (p AnswerPair) Key() string   { return p[0] }
func (p AnswerPair) Value() string { return p[1] }

// FeedbackJSON carries structured grading feedback. Rejections use either
// ValidationErrors or, in the course-grading-error variant, ErrorFields.
type FeedbackJSON struct {
	ValidationErrors map[string][]string    `json:"validation_errors,omitempty"`
	ErrorFields      map[string][]string    `json:"error_fields,omitempty"`
	FieldsPoints     map[string]FieldPoints `json:"fields_points,omitempty"`
}

// SubmissionRecord is one submission and its grading state. Records are
// immutable once obtained; a poll replaces the whole record or leaves prior
// state untouched.
type SubmissionRecord struct {
	ID             int64            `json:"id" validate:"required,min=1"`
	SubmissionTime time.Time        `json:"submission_time" validate:"required"`
	ExerciseID     int64            `json:"exercise_id" validate:"required,min=1"`
	Status         SubmissionStatus `json:"status"`
	Grade          int              `json:"grade" validate:"min=0"`
	Files          []SubmittedFile  `json:"files,omitempty" validate:"dive"`
	SubmissionData []AnswerPair     `json:"submission_data,omitempty"`
	Feedback       string           `json:"feedback,omitempty"`
	FeedbackJSON   *FeedbackJSON    `json:"feedback_json,omitempty"`
}

// Terminal reports whether grading has finished, one way or another.
func (r *SubmissionRecord) Terminal() bool { return r.Status != StatusWaiting }

// Variant classifies the record. A ready record carrying files is a graded
// code submission; a ready record without files is a graded questionnaire.
func (r *SubmissionRecord) Variant() SubmissionVariant {
	switch r.Status {
	case StatusWaiting:
		return VariantWaiting
	case StatusRejected, StatusError:
		return VariantRejected
	}
	if len(r.Files) > 0 {
		return VariantFile
	}
	return VariantQuestionnaire
}

// SubmissionRef is one row of the submission history list.
type SubmissionRef struct {
	ID             int64     `json:"id" validate:"required,min=1"`
	Grade          int       `json:"grade" validate:"min=0"`
	SubmissionTime time.Time `json:"submission_time" validate:"required"`
}

// SubmitterStats summarizes the student's standing on one exercise.
type SubmitterStats struct {
	SubmissionsWithPoints []SubmissionRef `json:"submissions_with_points" validate:"dive"`
	SubmissionCount       int             `json:"submission_count" validate:"min=0"`
	PointsToPass          int             `json:"points_to_pass" validate:"min=0"`
	Points                int             `json:"points" validate:"min=0"`
	Passed                bool            `json:"passed"`
}

// ClientConfig holds runtime parameters set via CLI flags.
type ClientConfig struct {
	APIURL       string        // platform API base, e.g. https://plus.example.org/api/v2
	Lang         string        // UI language (en, fi)
	PollInterval time.Duration // delay between grading polls
	MaxPolls     int           // 0 means poll until terminal
	RewriteFrom  string        // template host prefix to rewrite
	RewriteTo    string        // local proxy prefix replacing RewriteFrom
}
