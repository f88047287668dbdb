package handler

import (
	"github.com/mkivela/lmsc/internal/exercise"
	"github.com/mkivela/lmsc/internal/model"
)

// renderOption is one selectable choice of a radio/dropdown/checkbox field.
type renderOption struct {
	Key      string
	Label    string
	Selected bool
}

// renderField flattens a form field for the HTML templates: the kind tag as
// a plain string, labels already localized through the form's table.
type renderField struct {
	Kind        string
	Key         string
	Label       string
	Description string
	Required    bool
	Value       string
	Options     []renderOption
	Errors      []string
}

func buildRenderFields(form *exercise.Form, values map[string]string, errs map[string][]string) []renderField {
	out := make([]renderField, 0, len(form.Fields))
	for _, fld := range form.Fields {
		rf := renderField{
			Kind:   string(fld.Kind()),
			Key:    fld.FieldKey(),
			Value:  values[fld.FieldKey()],
			Errors: errs[fld.FieldKey()],
		}
		switch v := fld.(type) {
		case model.RadioField:
			fillChoice(&rf, form, v.ChoiceSpec)
		case model.DropdownField:
			fillChoice(&rf, form, v.ChoiceSpec)
		case model.CheckboxField:
			fillChoice(&rf, form, v.ChoiceSpec)
		case model.TextField:
			fillInput(&rf, form, v.InputSpec)
		case model.NumberField:
			fillInput(&rf, form, v.InputSpec)
		case model.TextareaField:
			fillInput(&rf, form, v.InputSpec)
		case model.FileField:
			rf.Label = form.Translate(v.Title)
		case model.StaticField:
			rf.Description = form.Translate(v.Description)
		}
		out = append(out, rf)
	}
	return out
}

func fillChoice(rf *renderField, form *exercise.Form, c model.ChoiceSpec) {
	rf.Label = form.Translate(c.Title)
	rf.Description = form.Translate(c.Description)
	rf.Required = c.Required
	for _, key := range c.EnumKeys {
		rf.Options = append(rf.Options, renderOption{
			Key:      key,
			Label:    form.Translate(c.Options[key]),
			Selected: rf.Value == key,
		})
	}
}

func fillInput(rf *renderField, form *exercise.Form, in model.InputSpec) {
	rf.Label = form.Translate(in.Title)
	rf.Description = form.Translate(in.Description)
	rf.Required = in.Required
}
