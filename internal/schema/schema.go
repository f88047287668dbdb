// Package schema validates platform API payloads before they enter
// application state. Every decode is strict: a payload that deviates from
// its contract fails with a Violation naming the first offending path,
// never a silently defaulted value.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mkivela/lmsc/internal/model"
)

// Violation reports a server payload that does not match its contract.
type Violation struct {
	Path   string // dotted JSON path of the first offending value
	Reason string
}

func (v *Violation) Error() string {
	if v.Path == "" {
		return "schema violation: " + v.Reason
	}
	return fmt.Sprintf("schema violation at %s: %s", v.Path, v.Reason)
}

func violation(path, format string, args ...any) *Violation {
	return &Violation{Path: path, Reason: fmt.Sprintf(format, args...)}
}

var validate = newValidator()

// newValidator builds a validator that reports JSON tag names in error
// namespaces, so Violation paths match what the server actually sent.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkStruct runs struct tag validation and converts the first failure
// into a Violation rooted at basePath.
func checkStruct(val any, basePath string) error {
	err := validate.Struct(val)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		path := fe.Namespace()
		// Strip the Go struct name; keep only the JSON path below it.
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		} else {
			path = ""
		}
		return violation(joinPath(basePath, path), "failed %q constraint", fe.Tag())
	}
	return violation(basePath, "%v", err)
}

func joinPath(base, rest string) string {
	switch {
	case base == "":
		return rest
	case rest == "":
		return base
	case strings.HasPrefix(rest, "["):
		return base + rest
	default:
		return base + "." + rest
	}
}

// unmarshal decodes JSON and maps decoding failures to Violations.
func unmarshal(data []byte, dst any, basePath string) error {
	if err := json.Unmarshal(data, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return violation(joinPath(basePath, typeErr.Field),
				"cannot decode %s into %s", typeErr.Value, typeErr.Type)
		}
		return violation(basePath, "malformed JSON: %v", err)
	}
	return nil
}

// Profile validates a /users/me payload.
func Profile(data []byte) (*model.UserProfile, error) {
	var p model.UserProfile
	if err := unmarshal(data, &p, ""); err != nil {
		return nil, err
	}
	if err := checkStruct(&p, ""); err != nil {
		return nil, err
	}
	return &p, nil
}

// SubmitterStats validates a submitter_stats payload.
func SubmitterStats(data []byte) (*model.SubmitterStats, error) {
	var s model.SubmitterStats
	if err := unmarshal(data, &s, ""); err != nil {
		return nil, err
	}
	if err := checkStruct(&s, ""); err != nil {
		return nil, err
	}
	return &s, nil
}

type submissionListWire struct {
	Results []model.SubmissionRef `json:"results"`
}

// SubmissionList validates a submissions/me payload.
func SubmissionList(data []byte) ([]model.SubmissionRef, error) {
	var w submissionListWire
	if err := unmarshal(data, &w, ""); err != nil {
		return nil, err
	}
	for i := range w.Results {
		if err := checkStruct(&w.Results[i], fmt.Sprintf("results[%d]", i)); err != nil {
			return nil, err
		}
	}
	return w.Results, nil
}

var submissionStatuses = map[model.SubmissionStatus]bool{
	model.StatusWaiting:  true,
	model.StatusReady:    true,
	model.StatusRejected: true,
	model.StatusError:    true,
}

// Submission validates a single submission payload, including its tagged
// grading status.
func Submission(data []byte) (*model.SubmissionRecord, error) {
	var r model.SubmissionRecord
	if err := unmarshal(data, &r, ""); err != nil {
		return nil, err
	}
	if !submissionStatuses[r.Status] {
		return nil, violation("status", "unknown status %q", r.Status)
	}
	if err := checkStruct(&r, ""); err != nil {
		return nil, err
	}
	for i, pair := range r.SubmissionData {
		if pair.Key() == "" {
			return nil, violation(fmt.Sprintf("submission_data[%d]", i), "empty field key")
		}
	}
	return &r, nil
}

type formWire struct {
	FormSpec []json.RawMessage              `json:"form_spec"`
	FormI18n map[string]model.LocalizedText `json:"form_i18n"`
}

type exerciseWire struct {
	model.ExerciseSpec
	ExerciseInfo *formWire `json:"exercise_info"`
}

// Exercise validates an exercise payload. A null exercise_info is legal and
// means the exercise cannot be rendered as a form.
func Exercise(data []byte) (*model.ExerciseSpec, error) {
	var w exerciseWire
	if err := unmarshal(data, &w, ""); err != nil {
		return nil, err
	}
	ex := w.ExerciseSpec
	if err := checkStruct(&ex, ""); err != nil {
		return nil, err
	}
	if w.ExerciseInfo == nil {
		return &ex, nil
	}
	form, err := decodeForm(w.ExerciseInfo)
	if err != nil {
		return nil, err
	}
	ex.Form = form
	return &ex, nil
}

func decodeForm(w *formWire) (*model.FormSpecification, error) {
	form := &model.FormSpecification{I18n: w.FormI18n}
	seen := make(map[string]bool, len(w.FormSpec))
	for i, raw := range w.FormSpec {
		path := fmt.Sprintf("exercise_info.form_spec[%d]", i)
		f, err := decodeField(raw, path)
		if err != nil {
			return nil, err
		}
		if seen[f.FieldKey()] {
			return nil, violation(path+".key", "duplicate field key %q", f.FieldKey())
		}
		seen[f.FieldKey()] = true
		form.Fields = append(form.Fields, f)
	}
	for key, txt := range w.FormI18n {
		if txt.Empty() {
			return nil, violation("exercise_info.form_i18n."+key, "no language variant present")
		}
	}
	if err := checkFormMode(form.Fields); err != nil {
		return nil, err
	}
	return form, nil
}

// checkFormMode enforces that code-file and questionnaire inputs never mix
// within one form specification.
func checkFormMode(fields []model.Field) error {
	hasFile := false
	hasInput := false
	for _, f := range fields {
		switch f.Kind() {
		case model.FieldFile:
			hasFile = true
		case model.FieldStatic:
			// Static fields are legal in both modes.
		default:
			hasInput = true
		}
	}
	if hasFile && hasInput {
		return violation("exercise_info.form_spec", "file and questionnaire fields mixed in one form")
	}
	return nil
}

func decodeField(raw json.RawMessage, path string) (model.Field, error) {
	var tag struct {
		Type model.FieldKind `json:"type"`
	}
	if err := unmarshal(raw, &tag, path); err != nil {
		return nil, err
	}

	switch tag.Type {
	case model.FieldRadio, model.FieldDropdown, model.FieldCheckbox:
		var spec model.ChoiceSpec
		if err := unmarshal(raw, &spec, path); err != nil {
			return nil, err
		}
		if err := checkChoice(spec, path); err != nil {
			return nil, err
		}
		switch tag.Type {
		case model.FieldRadio:
			return model.RadioField{ChoiceSpec: spec}, nil
		case model.FieldDropdown:
			return model.DropdownField{ChoiceSpec: spec}, nil
		default:
			return model.CheckboxField{ChoiceSpec: spec}, nil
		}

	case model.FieldText, model.FieldNumber, model.FieldTextarea:
		var spec model.InputSpec
		if err := unmarshal(raw, &spec, path); err != nil {
			return nil, err
		}
		if spec.Key == "" {
			return nil, violation(path+".key", "missing required key")
		}
		if spec.Title == "" {
			return nil, violation(path+".title", "missing required title")
		}
		switch tag.Type {
		case model.FieldText:
			return model.TextField{InputSpec: spec}, nil
		case model.FieldNumber:
			return model.NumberField{InputSpec: spec}, nil
		default:
			return model.TextareaField{InputSpec: spec}, nil
		}

	case model.FieldFile:
		var f model.FileField
		if err := unmarshal(raw, &f, path); err != nil {
			return nil, err
		}
		if f.Key == "" {
			return nil, violation(path+".key", "missing required key")
		}
		if f.Title == "" {
			return nil, violation(path+".title", "missing required title")
		}
		return f, nil

	case model.FieldStatic:
		var f model.StaticField
		if err := unmarshal(raw, &f, path); err != nil {
			return nil, err
		}
		if f.Key == "" {
			return nil, violation(path+".key", "missing required key")
		}
		return f, nil

	case "":
		return nil, violation(path+".type", "missing field type")
	default:
		return nil, violation(path+".type", "unknown field type %q", tag.Type)
	}
}

func checkChoice(spec model.ChoiceSpec, path string) error {
	if spec.Key == "" {
		return violation(path+".key", "missing required key")
	}
	if spec.Title == "" {
		return violation(path+".title", "missing required title")
	}
	if len(spec.EnumKeys) == 0 {
		return violation(path+".enum", "no option keys enumerated")
	}
	for _, k := range spec.EnumKeys {
		if _, ok := spec.Options[k]; !ok {
			return violation(path+".titleMap", "option key %q has no title entry", k)
		}
	}
	return nil
}

// StoredToken validates a token value loaded from local storage. Tokens are
// persisted as JSON strings; anything else counts as corruption.
func StoredToken(data []byte) (string, error) {
	var tok string
	if err := json.Unmarshal(data, &tok); err != nil {
		return "", violation("", "stored token is not a JSON string: %v", err)
	}
	if tok == "" {
		return "", violation("", "stored token is empty")
	}
	return tok, nil
}

// GraderTokenResponse unquotes the get-token response, which arrives as a
// JSON-quoted string.
func GraderTokenResponse(data []byte) (string, error) {
	return StoredToken(data)
}
