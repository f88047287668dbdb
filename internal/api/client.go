// Package api is the client for the learning platform's REST API. All
// requests authenticate with the student's primary token; payloads pass
// through the schema layer before they are returned.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mkivela/lmsc/internal/model"
	"github.com/mkivela/lmsc/internal/schema"
)

// ErrAuthExpired is returned when the platform reports the primary token as
// invalid. Callers must treat it as a forced logout, never as a form error.
var ErrAuthExpired = errors.New("primary token invalid")

// StatusError is any non-2xx platform response that is not a token failure.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform returned %d: %s", e.Code, e.Body)
}

// invalidTokenDetail is the literal body the platform sends for expired or
// revoked primary tokens.
const invalidTokenDetail = "Invalid token."

// Client talks to one platform instance on behalf of one student.
type Client struct {
	base  string
	http  *http.Client
	token func() string
}

// New creates a client for the given API base URL. token is read on every
// request so that login and logout take effect without rebuilding the client.
func New(baseURL string, token func() string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse API URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("API URL %q has no scheme or host", baseURL)
	}
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		http:  &http.Client{},
		token: token,
	}, nil
}

// do issues a request and returns the raw response. Responses whose body
// carries the invalid-token detail map to ErrAuthExpired regardless of the
// call site.
func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	req.Header.Set("Authorization", "Token "+c.token())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("platform request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read platform response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(body, &detail) == nil && detail.Detail == invalidTokenDetail {
			return nil, nil, ErrAuthExpired
		}
		return nil, nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, body, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	_, body, err := c.do(req)
	return body, err
}

// Me fetches the current user's profile.
func (c *Client) Me(ctx context.Context) (*model.UserProfile, error) {
	body, err := c.get(ctx, "/users/me")
	if err != nil {
		return nil, err
	}
	return schema.Profile(body)
}

// Exercise fetches one exercise's submittable shape.
func (c *Client) Exercise(ctx context.Context, id int64) (*model.ExerciseSpec, error) {
	body, err := c.get(ctx, fmt.Sprintf("/exercises/%d", id))
	if err != nil {
		return nil, err
	}
	return schema.Exercise(body)
}

// SubmitterStats fetches the student's standing on one exercise.
func (c *Client) SubmitterStats(ctx context.Context, exerciseID int64) (*model.SubmitterStats, error) {
	body, err := c.get(ctx, fmt.Sprintf("/exercises/%d/submitter_stats/me", exerciseID))
	if err != nil {
		return nil, err
	}
	return schema.SubmitterStats(body)
}

// Submissions fetches the student's submission history for one exercise.
func (c *Client) Submissions(ctx context.Context, exerciseID int64) ([]model.SubmissionRef, error) {
	body, err := c.get(ctx, fmt.Sprintf("/exercises/%d/submissions/me", exerciseID))
	if err != nil {
		return nil, err
	}
	return schema.SubmissionList(body)
}

// Submission fetches one submission record by id.
func (c *Client) Submission(ctx context.Context, id int64) (*model.SubmissionRecord, error) {
	body, err := c.get(ctx, fmt.Sprintf("/submissions/%d", id))
	if err != nil {
		return nil, err
	}
	return schema.Submission(body)
}

// SubmissionFile fetches the raw content of one submitted file.
func (c *Client) SubmissionFile(ctx context.Context, submissionID, fileID int64) ([]byte, error) {
	return c.get(ctx, fmt.Sprintf("/submissions/%d/files/%d", submissionID, fileID))
}

// graderTokenLifetime is the fixed validity window requested for secondary
// tokens.
const graderTokenLifetime = "01:00:00"

// GraderToken issues a short-lived secondary token scoped to the given
// courses. The response body is a JSON-quoted string and is unquoted before
// it is returned.
func (c *Client) GraderToken(ctx context.Context, courses []model.Course) (string, error) {
	perms := make([][]any, 0, len(courses))
	for _, course := range courses {
		perms = append(perms, []any{"instance", course.ID})
	}
	payload, err := json.Marshal(map[string]any{
		"taud":        "grader",
		"exp":         graderTokenLifetime,
		"permissions": perms,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/get-token", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	_, body, err := c.do(req)
	if err != nil {
		return "", err
	}
	tok, err := schema.GraderTokenResponse(body)
	if err != nil {
		return "", fmt.Errorf("grader token response: %w", err)
	}
	return tok, nil
}

// SubmitFile is one file part of a code submission.
type SubmitFile struct {
	Field    string // form field key
	Filename string
	Content  []byte
}

// Submit posts a new submission as a multipart form and returns the created
// submission's id, parsed from the trailing segment of the response's
// Location header.
func (c *Client) Submit(ctx context.Context, exerciseID int64, values url.Values, files []SubmitFile) (int64, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for key, vals := range values {
		for _, v := range vals {
			if err := mw.WriteField(key, v); err != nil {
				return 0, err
			}
		}
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return 0, err
		}
		if _, err := part.Write(f.Content); err != nil {
			return 0, err
		}
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/exercises/%d/submissions/submit", c.base, exerciseID), &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, _, err := c.do(req)
	if err != nil {
		return 0, err
	}

	loc := resp.Header.Get("Location")
	id, err := submissionIDFromLocation(loc)
	if err != nil {
		return 0, err
	}
	slog.Debug("submission created", "exercise_id", exerciseID, "submission_id", id)
	return id, nil
}

// submissionIDFromLocation parses the created submission's id from the
// trailing path segment of a Location header.
func submissionIDFromLocation(loc string) (int64, error) {
	if loc == "" {
		return 0, errors.New("submit response has no Location header")
	}
	trimmed := strings.TrimRight(loc, "/")
	seg := trimmed[strings.LastIndexByte(trimmed, '/')+1:]
	id, err := strconv.ParseInt(seg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("cannot parse submission id from Location %q", loc)
	}
	return id, nil
}
