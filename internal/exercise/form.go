// Package exercise derives renderable forms from exercise specifications:
// the ordered field list, localized labels, and default values.
package exercise

import (
	"errors"

	"github.com/mkivela/lmsc/internal/model"
)

// ErrNoForm is returned for exercises without a form specification; such
// exercises cannot be rendered or submitted as forms.
var ErrNoForm = errors.New("exercise has no form specification")

// Mode is the submission mode implied by a form's first field.
type Mode string

const (
	// ModeFile exercises take starter-code files and are submitted as
	// file uploads.
	ModeFile Mode = "file"
	// ModeQuestionnaire exercises are structured answer forms.
	ModeQuestionnaire Mode = "questionnaire"
)

// Form is a renderable view of one exercise's form specification. It is
// owned by the view displaying it and never shared.
type Form struct {
	Exercise *model.ExerciseSpec
	Fields   []model.Field

	lang string
	i18n map[string]model.LocalizedText
}

// Build derives a form from an exercise spec for the given UI language.
func Build(spec *model.ExerciseSpec, lang string) (*Form, error) {
	if spec.Form == nil {
		return nil, ErrNoForm
	}
	return &Form{
		Exercise: spec,
		Fields:   spec.Form.Fields,
		lang:     lang,
		i18n:     spec.Form.I18n,
	}, nil
}

// Mode reports whether this is a code-file or questionnaire exercise. The
// two modes are mutually exclusive; the first field's kind decides.
func (f *Form) Mode() Mode {
	if len(f.Fields) > 0 && f.Fields[0].Kind() == model.FieldFile {
		return ModeFile
	}
	return ModeQuestionnaire
}

// FileFields returns the form's file fields in rendering order.
func (f *Form) FileFields() []model.FileField {
	var out []model.FileField
	for _, fld := range f.Fields {
		if ff, ok := fld.(model.FileField); ok {
			out = append(out, ff)
		}
	}
	return out
}

// Translate resolves a label key against the form's localization table.
// It is total: keys without a table entry are returned unchanged (the
// server uses them for literal default text), and an entry missing the
// active language falls back to whichever language is present. An entry
// with neither language is a server contract violation and is tolerated by
// returning the raw key.
func (f *Form) Translate(key string) string {
	txt, ok := f.i18n[key]
	if !ok {
		return key
	}
	primary, fallback := txt.En, txt.Fi
	if f.lang == "fi" {
		primary, fallback = txt.Fi, txt.En
	}
	if primary != "" {
		return primary
	}
	if fallback != "" {
		return fallback
	}
	return key
}

// Defaults returns the initial value for every input field: the first
// enumerated option key for radio and dropdown fields, no checked options
// for checkboxes, and an empty string for text inputs. File and static
// fields contribute nothing.
func (f *Form) Defaults() map[string]string {
	values := make(map[string]string)
	for _, fld := range f.Fields {
		switch v := fld.(type) {
		case model.RadioField:
			values[v.Key] = firstEnum(v.ChoiceSpec)
		case model.DropdownField:
			values[v.Key] = firstEnum(v.ChoiceSpec)
		case model.CheckboxField:
			values[v.Key] = ""
		case model.TextField:
			values[v.Key] = ""
		case model.NumberField:
			values[v.Key] = ""
		case model.TextareaField:
			values[v.Key] = ""
		}
	}
	return values
}

func firstEnum(c model.ChoiceSpec) string {
	if len(c.EnumKeys) == 0 {
		return ""
	}
	return c.EnumKeys[0]
}

// Prefill overlays answers from a prior submission (or an in-progress
// draft) on top of the defaults. Pairs whose key is not a form field are
// ignored.
func (f *Form) Prefill(pairs []model.AnswerPair) map[string]string {
	values := f.Defaults()
	keys := make(map[string]bool, len(f.Fields))
	for _, fld := range f.Fields {
		keys[fld.FieldKey()] = true
	}
	for _, p := range pairs {
		if keys[p.Key()] {
			values[p.Key()] = p.Value()
		}
	}
	return values
}
