package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkivela/lmsc/internal/api"
	"github.com/mkivela/lmsc/internal/grader"
	appI18n "github.com/mkivela/lmsc/internal/i18n"
	"github.com/mkivela/lmsc/internal/model"
	"github.com/mkivela/lmsc/internal/session"
	"github.com/mkivela/lmsc/internal/store"
)

// newTestHandler wires a logged-in handler against a platform stub serving
// the given path → JSON body map. /users/me is always served.
func newTestHandler(t *testing.T, responses map[string]string) http.Handler {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/users/me" {
			w.Write([]byte(`{"full_name": "Test User", "enrolled_courses": []}`))
			return
		}
		body, ok := responses[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sess, err := session.Load(st)
	if err != nil {
		t.Fatalf("session.Load: %v", err)
	}
	client, err := api.New(srv.URL, sess.PrimaryToken)
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	if _, err := sess.Login(context.Background(), client, "test-token"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	fetcher := &grader.Fetcher{
		Token:   sess.GraderToken,
		Refresh: func(ctx context.Context) error { return nil },
	}
	cfg := model.ClientConfig{Lang: "en", PollInterval: 500 * time.Millisecond}
	h, err := New(sess, client, st, fetcher, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func exerciseJSON(submittable bool, maxSubmissions int) string {
	return fmt.Sprintf(`{
		"id": 7, "display_name": "Quiz", "is_submittable": %t,
		"max_points": 10, "max_submissions": %d, "templates": "",
		"exercise_info": {
			"form_spec": [{"type": "text", "key": "q1", "title": "Answer"}],
			"form_i18n": {}
		}}`, submittable, maxSubmissions)
}

func statsJSON(count int) string {
	return fmt.Sprintf(`{
		"submissions_with_points": [], "submission_count": %d,
		"points_to_pass": 5, "points": 0, "passed": false}`, count)
}

func getPage(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestExercisePagePrefillsPriorAnswers(t *testing.T) {
	h := newTestHandler(t, map[string]string{
		"/exercises/7":                    exerciseJSON(true, 5),
		"/exercises/7/submitter_stats/me": statsJSON(2),
		"/exercises/7/submissions/me": `{"results": [
			{"id": 41, "grade": 5, "submission_time": "2026-08-29T10:00:00Z"},
			{"id": 42, "grade": 8, "submission_time": "2026-08-30T10:00:00Z"}
		]}`,
		// Only the newest record is served; fetching any other 404s the page.
		"/submissions/42": `{
			"id": 42, "exercise_id": 7,
			"submission_time": "2026-08-30T10:00:00Z",
			"status": "ready",
			"submission_data": [["q1", "prior answer"]]
		}`,
	})

	rec := getPage(t, h, "/exercise/7")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `value="prior answer"`) {
		t.Error("page does not show the prior submission's answer")
	}
}

func TestExercisePageNoHistoryUsesDefaults(t *testing.T) {
	h := newTestHandler(t, map[string]string{
		"/exercises/7":                    exerciseJSON(true, 5),
		"/exercises/7/submitter_stats/me": statsJSON(0),
		"/exercises/7/submissions/me":     `{"results": []}`,
	})

	rec := getPage(t, h, "/exercise/7")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `value=""`) {
		t.Error("text field default is not empty")
	}
}

func TestExercisePageSubmitGating(t *testing.T) {
	tests := []struct {
		name          string
		submittable   bool
		maxSubs       int
		count         int
		wantCanSubmit bool
	}{
		{"open", true, 3, 2, true},
		{"all submissions used", true, 3, 3, false},
		{"unlimited submissions", true, 0, 99, true},
		{"not submittable", false, 3, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, map[string]string{
				"/exercises/7":                    exerciseJSON(tt.submittable, tt.maxSubs),
				"/exercises/7/submitter_stats/me": statsJSON(tt.count),
				"/exercises/7/submissions/me":     `{"results": []}`,
			})

			rec := getPage(t, h, "/exercise/7")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
			}
			body := rec.Body.String()
			// The layout's logout button also submits, so look for the
			// form's own label.
			hasSubmit := strings.Contains(body, ">Submit</button>")
			if hasSubmit != tt.wantCanSubmit {
				t.Errorf("submit control shown = %t, want %t", hasSubmit, tt.wantCanSubmit)
			}
			hasDisabled := strings.Contains(body, "Submitting is disabled")
			if hasDisabled == tt.wantCanSubmit {
				t.Errorf("disabled notice shown = %t, want %t", hasDisabled, !tt.wantCanSubmit)
			}
		})
	}
}

func TestSubmitRejectedWhenGated(t *testing.T) {
	tests := []struct {
		name        string
		submittable bool
		maxSubs     int
		count       int
	}{
		{"all submissions used", true, 3, 3},
		{"not submittable", false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, map[string]string{
				"/exercises/7":                    exerciseJSON(tt.submittable, tt.maxSubs),
				"/exercises/7/submitter_stats/me": statsJSON(tt.count),
			})

			req := httptest.NewRequest(http.MethodPost, "/exercise/7/submit",
				strings.NewReader("q1=hello"))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusForbidden {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
			}
		})
	}
}
