// Package handler is the local browser front-end: it renders the course
// list and exercise forms and drives submissions against the platform API.
package handler

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mkivela/lmsc/internal/api"
	"github.com/mkivela/lmsc/internal/exercise"
	"github.com/mkivela/lmsc/internal/grader"
	appI18n "github.com/mkivela/lmsc/internal/i18n"
	"github.com/mkivela/lmsc/internal/model"
	"github.com/mkivela/lmsc/internal/session"
	"github.com/mkivela/lmsc/internal/store"
	"github.com/mkivela/lmsc/internal/submission"
)

//go:embed templates/*.html
var templateFS embed.FS

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	sess    *session.Session
	client  *api.Client
	store   *store.Store
	fetcher *grader.Fetcher
	config  model.ClientConfig
	tmpl    *template.Template
}

// New creates a new Handler.
func New(sess *session.Session, client *api.Client, st *store.Store, fetcher *grader.Fetcher, cfg model.ClientConfig) (*Handler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Handler{
		sess:    sess,
		client:  client,
		store:   st,
		fetcher: fetcher,
		config:  cfg,
		tmpl:    tmpl,
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/login", h.handleLoginPage)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/", h.handleCourses)
		r.Get("/exercise/{exerciseID}", h.handleExercisePage)
		r.Post("/exercise/{exerciseID}/draft", h.handleSaveDraft)
		r.Post("/exercise/{exerciseID}/submit", h.handleSubmit)
		r.Get("/submission/{submissionID}", h.handleSubmissionPage)
		r.Get("/submission/{submissionID}/status", h.handleSubmissionStatus)
	})
}

// requireAuth redirects logged-out requests to the login page.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.sess.LoggedIn() {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// fail renders the view's error placeholder, or forces a logout redirect
// when the platform reported the primary token as invalid.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if h.sess.ExpireIfAuthError(err) {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	slog.Error("request failed", "path", r.URL.Path, "error", err)
	h.render(w, r, "error.html", map[string]any{
		"Message": appI18n.T(r.Context(), "LoadingError"),
	})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	ctx := r.Context()
	data["T"] = func(id string) string { return appI18n.T(ctx, id) }
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("render error", "template", name, "error", err)
	}
}

func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "login.html", map[string]any{"Error": ""})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	token := r.FormValue("token")
	if _, err := h.sess.Login(r.Context(), h.client, token); err != nil {
		slog.Warn("login rejected", "error", err)
		w.WriteHeader(http.StatusUnauthorized)
		h.render(w, r, "login.html", map[string]any{
			"Error": appI18n.T(r.Context(), "LoginError"),
		})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sess.Logout(); err != nil {
		slog.Error("logout failed", "error", err)
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) handleCourses(w http.ResponseWriter, r *http.Request) {
	profile, err := h.sess.Profile(r.Context(), h.client)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "courses.html", map[string]any{
		"Profile": profile,
	})
}

// exerciseView gathers everything the exercise page needs. Metadata is
// fetched before submission history, which is fetched before any template.
type exerciseView struct {
	Exercise     *model.ExerciseSpec
	Stats        *model.SubmitterStats
	History      []model.SubmissionRef
	Form         *exercise.Form
	Mode         exercise.Mode
	Values       map[string]string
	RenderFields []renderField
	Templates    []grader.Template
	Draft        string
	CanSubmit    bool
}

func (h *Handler) loadExercise(r *http.Request, id int64) (*exerciseView, error) {
	ctx := r.Context()

	ex, err := h.client.Exercise(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := h.client.SubmitterStats(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := h.client.Submissions(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &exerciseView{
		Exercise: ex,
		Stats:    stats,
		History:  history,
		CanSubmit: ex.IsSubmittable &&
			(ex.MaxSubmissions == 0 || stats.SubmissionCount < ex.MaxSubmissions),
	}

	form, err := exercise.Build(ex, h.config.Lang)
	if errors.Is(err, exercise.ErrNoForm) {
		return view, nil
	}
	if err != nil {
		return nil, err
	}
	view.Form = form
	view.Mode = form.Mode()
	view.Values = form.Defaults()

	// A prior graded questionnaire overrides the defaults with its answers.
	if form.Mode() == exercise.ModeQuestionnaire {
		if ref := latestRef(history); ref != nil {
			rec, err := h.client.Submission(ctx, ref.ID)
			if err != nil {
				return nil, err
			}
			if rec.Terminal() && len(rec.SubmissionData) > 0 {
				view.Values = form.Prefill(rec.SubmissionData)
			}
		}
	}
	view.RenderFields = buildRenderFields(form, view.Values, nil)

	if form.Mode() == exercise.ModeFile {
		draft, err := h.store.GetDraft(id)
		if err != nil {
			return nil, err
		}
		view.Draft = draft
		templates, err := h.fetcher.FetchForForm(ctx, form)
		if err != nil {
			return nil, err
		}
		view.Templates = templates
		if draft == "" && len(templates) > 0 {
			view.Draft = templates[0].Content
		}
	}
	return view, nil
}

// latestRef picks the most recent entry of a submission history list.
func latestRef(history []model.SubmissionRef) *model.SubmissionRef {
	var latest *model.SubmissionRef
	for i := range history {
		if latest == nil || history[i].SubmissionTime.After(latest.SubmissionTime) {
			latest = &history[i]
		}
	}
	return latest
}

func (h *Handler) handleExercisePage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "exerciseID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid exercise ID", http.StatusBadRequest)
		return
	}

	view, err := h.loadExercise(r, id)
	if err != nil {
		if errors.Is(err, grader.ErrExpired) {
			// The single refresh already failed; a second expiry forces a
			// full logout.
			_ = h.sess.Logout()
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		if errors.Is(err, grader.ErrTemplateCount) {
			h.render(w, r, "error.html", map[string]any{
				"Message": appI18n.T(r.Context(), "TemplateMismatch"),
			})
			return
		}
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "exercise.html", map[string]any{"View": view})
}

func (h *Handler) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "exerciseID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid exercise ID", http.StatusBadRequest)
		return
	}
	if err := h.store.SaveDraft(id, r.FormValue("code")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "exerciseID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid exercise ID", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	ex, err := h.client.Exercise(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stats, err := h.client.SubmitterStats(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ex.IsSubmittable || (ex.MaxSubmissions > 0 && stats.SubmissionCount >= ex.MaxSubmissions) {
		http.Error(w, appI18n.T(ctx, "SubmitDisabled"), http.StatusForbidden)
		return
	}

	form, err := exercise.Build(ex, h.config.Lang)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var subID int64
	if form.Mode() == exercise.ModeFile {
		code := r.FormValue("code")
		// The draft mirrors whatever was last submitted or edited.
		if err := h.store.SaveDraft(id, code); err != nil {
			h.fail(w, r, err)
			return
		}
		var files []api.SubmitFile
		for _, ff := range form.FileFields() {
			files = append(files, api.SubmitFile{
				Field:    ff.Key,
				Filename: ff.Key,
				Content:  []byte(code),
			})
		}
		subID, err = h.client.Submit(ctx, id, nil, files)
	} else {
		values := url.Values{}
		for _, fld := range form.Fields {
			key := fld.FieldKey()
			switch fld.Kind() {
			case model.FieldStatic, model.FieldFile:
			case model.FieldCheckbox:
				for _, v := range r.PostForm[key] {
					values.Add(key, v)
				}
			default:
				values.Set(key, r.PostFormValue(key))
			}
		}
		subID, err = h.client.Submit(ctx, id, values, nil)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/submission/%d?exercise=%d", subID, id), http.StatusSeeOther)
}

func (h *Handler) handleSubmissionPage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "submissionID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid submission ID", http.StatusBadRequest)
		return
	}
	exerciseID := r.URL.Query().Get("exercise")
	h.render(w, r, "submission.html", map[string]any{
		"SubmissionID": id,
		"ExerciseID":   exerciseID,
		"IntervalMS":   h.config.PollInterval.Milliseconds(),
	})
}

// statusResponse is what the polling page script consumes. The browser
// re-requests it at the fixed poll interval until Terminal is true; leaving
// the page simply stops the requests, so no timer outlives the view.
type statusResponse struct {
	Terminal         bool                         `json:"terminal"`
	Variant          model.SubmissionVariant      `json:"variant"`
	Outcome          submission.OutcomeKind       `json:"outcome,omitempty"`
	Grade            int                          `json:"grade"`
	Feedback         string                       `json:"feedback,omitempty"`
	ValidationErrors map[string][]string          `json:"validation_errors,omitempty"`
	FieldPoints      map[string]model.FieldPoints `json:"field_points,omitempty"`
}

func (h *Handler) handleSubmissionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "submissionID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid submission ID", http.StatusBadRequest)
		return
	}

	rec, err := h.client.Submission(r.Context(), id)
	if err != nil {
		if h.sess.ExpireIfAuthError(err) {
			http.Error(w, "session expired", http.StatusUnauthorized)
			return
		}
		slog.Error("poll failed", "submission_id", id, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	resp := statusResponse{Terminal: rec.Terminal(), Variant: rec.Variant(), Grade: rec.Grade}
	if rec.Terminal() {
		// The page reloads the exercise view on terminal status, which
		// re-fetches counters and points; the refresh callback has nothing
		// extra to do here.
		out, err := submission.Reconcile(rec, func() {})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.Outcome = out.Kind
		resp.Feedback = out.Feedback
		resp.ValidationErrors = out.ValidationErrors
		resp.FieldPoints = out.FieldPoints
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("encode status", "error", err)
	}
}
