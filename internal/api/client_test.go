package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mkivela/lmsc/internal/model"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, func() string { return "primary-token" })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "/relative/path"} {
		if _, err := New(u, func() string { return "" }); err == nil {
			t.Errorf("New(%q) accepted an invalid base URL", u)
		}
	}
}

func TestMeSendsTokenHeader(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/users/me" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"full_name": "Test User", "enrolled_courses": []}`))
	}))

	p, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if gotAuth != "Token primary-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if p.FullName != "Test User" {
		t.Errorf("full name = %q", p.FullName)
	}
}

func TestInvalidTokenMapsToAuthExpired(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail": "Invalid token."}`))
	}))

	_, err := c.Me(context.Background())
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
}

func TestOtherErrorIsStatusError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("maintenance"))
	}))

	_, err := c.Me(context.Background())
	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if serr.Code != http.StatusServiceUnavailable || serr.Body != "maintenance" {
		t.Errorf("status error = %+v", serr)
	}
}

func TestGraderToken(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get-token" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`"grader-token-value"`))
	}))

	tok, err := c.GraderToken(context.Background(), []model.Course{
		{ID: 11, Name: "CS1"}, {ID: 12, Name: "CS2"},
	})
	if err != nil {
		t.Fatalf("GraderToken: %v", err)
	}
	if tok != "grader-token-value" {
		t.Errorf("token = %q, want the unquoted value", tok)
	}
	if gotBody["taud"] != "grader" || gotBody["exp"] != "01:00:00" {
		t.Errorf("request body = %v", gotBody)
	}
	perms, ok := gotBody["permissions"].([]any)
	if !ok || len(perms) != 2 {
		t.Fatalf("permissions = %v", gotBody["permissions"])
	}
	first, _ := perms[0].([]any)
	if len(first) != 2 || first[0] != "instance" || first[1] != float64(11) {
		t.Errorf("permissions[0] = %v", first)
	}
}

func TestSubmitMultipart(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/exercises/7/submissions/submit" {
			t.Errorf("path = %q", r.URL.Path)
		}
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.MultipartForm.Value["q1"]; len(got) != 1 || got[0] != "b" {
			t.Errorf("q1 = %v", got)
		}
		if got := r.MultipartForm.Value["q3"]; len(got) != 2 {
			t.Errorf("q3 = %v, want both checkbox values", got)
		}
		files := r.MultipartForm.File["file1"]
		if len(files) != 1 || files[0].Filename != "file1" {
			t.Fatalf("files = %v", files)
		}
		fh, _ := files[0].Open()
		defer fh.Close()
		buf := make([]byte, 64)
		n, _ := fh.Read(buf)
		if string(buf[:n]) != "package main" {
			t.Errorf("file content = %q", buf[:n])
		}

		w.Header().Set("Location", "/api/v2/submissions/1234/")
		w.WriteHeader(http.StatusCreated)
	}))

	id, err := c.Submit(context.Background(), 7,
		map[string][]string{"q1": {"b"}, "q3": {"c1", "c2"}},
		[]SubmitFile{{Field: "file1", Filename: "file1", Content: []byte("package main")}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != 1234 {
		t.Errorf("submission id = %d, want 1234", id)
	}
}

func TestSubmissionIDFromLocation(t *testing.T) {
	tests := []struct {
		loc     string
		want    int64
		wantErr bool
	}{
		{"/api/v2/submissions/42", 42, false},
		{"/api/v2/submissions/42/", 42, false},
		{"https://plus.example.org/api/v2/submissions/9/", 9, false},
		{"", 0, true},
		{"/api/v2/submissions/abc", 0, true},
		{"/api/v2/submissions/-1", 0, true},
	}

	for _, tt := range tests {
		got, err := submissionIDFromLocation(tt.loc)
		if tt.wantErr {
			if err == nil {
				t.Errorf("submissionIDFromLocation(%q) expected error", tt.loc)
			}
			continue
		}
		if err != nil {
			t.Errorf("submissionIDFromLocation(%q): %v", tt.loc, err)
			continue
		}
		if got != tt.want {
			t.Errorf("submissionIDFromLocation(%q) = %d, want %d", tt.loc, got, tt.want)
		}
	}
}

func TestSubmissionFetch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/submissions/42" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{
			"id": 42, "exercise_id": 7,
			"submission_time": "2026-08-30T10:00:00Z",
			"status": "waiting"
		}`))
	}))

	rec, err := c.Submission(context.Background(), 42)
	if err != nil {
		t.Fatalf("Submission: %v", err)
	}
	if rec.Terminal() {
		t.Error("waiting record reported terminal")
	}
}
