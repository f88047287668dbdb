// Package grader fetches starter-code templates from the grading/material
// service using the short-lived secondary token, refreshing it exactly once
// on expiry.
package grader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mkivela/lmsc/internal/exercise"
)

// ErrExpired is returned when the material service rejects the secondary
// token. One refresh-and-retry is attempted; a second expiry propagates
// this error and must force a full logout, never a third attempt.
var ErrExpired = errors.New("grader token expired")

// ErrTemplateCount is a fatal configuration mismatch: the server listed a
// different number of template resources than the form has file fields.
var ErrTemplateCount = errors.New("template count does not match form file fields")

// expiredBody is the literal body the material service answers with for an
// expired token (a JSON-quoted string).
const expiredBody = `"Expired token"`

// Template is one fetched starter-code resource.
type Template struct {
	URL     string
	Content string
}

// Fetcher retrieves template resources in strict list order.
type Fetcher struct {
	HTTP *http.Client

	// RewriteFrom/RewriteTo rewrite template URLs from the known material
	// host prefix to the local proxy path. Empty RewriteFrom disables
	// rewriting.
	RewriteFrom string
	RewriteTo   string

	// Token returns the current secondary token; Refresh re-issues it via
	// the primary token and persists the replacement.
	Token   func() string
	Refresh func(ctx context.Context) error
}

func (f *Fetcher) client() *http.Client {
	if f.HTTP != nil {
		return f.HTTP
	}
	return http.DefaultClient
}

// rewriteURL maps a material-host URL onto the local proxy path.
func (f *Fetcher) rewriteURL(u string) string {
	if f.RewriteFrom != "" && strings.HasPrefix(u, f.RewriteFrom) {
		return f.RewriteTo + strings.TrimPrefix(u, f.RewriteFrom)
	}
	return u
}

// FetchAll fetches every URL in order. On the first token expiry it
// refreshes the secondary token once and restarts the whole sequence from
// the beginning; a second expiry is fatal. Any other fetch error
// propagates without a retry.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) ([]Template, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	// A token that was never issued is not an expiry; issuing it up front
	// keeps the single retry available for a real expiration.
	if f.Token() == "" {
		if err := f.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("issue grader token: %w", err)
		}
	}
	for attempt := 0; ; attempt++ {
		out, err := f.fetchSequence(ctx, urls)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrExpired) || attempt > 0 {
			return nil, err
		}
		slog.Info("grader token expired, refreshing once")
		if rerr := f.Refresh(ctx); rerr != nil {
			return nil, fmt.Errorf("refresh grader token: %w", rerr)
		}
	}
}

func (f *Fetcher) fetchSequence(ctx context.Context, urls []string) ([]Template, error) {
	out := make([]Template, 0, len(urls))
	for _, u := range urls {
		content, err := f.fetchOne(ctx, u)
		if err != nil {
			return nil, err
		}
		out = append(out, Template{URL: u, Content: content})
	}
	return out, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.rewriteURL(rawURL), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+f.Token())

	resp, err := f.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch template %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", rawURL, err)
	}
	if strings.TrimSpace(string(body)) == expiredBody {
		return "", ErrExpired
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch template %s: status %d", rawURL, resp.StatusCode)
	}
	return string(body), nil
}

// FetchForForm fetches the exercise's templates and enforces that their
// count equals the form's file-field count; they correspond 1:1 by
// position.
func (f *Fetcher) FetchForForm(ctx context.Context, form *exercise.Form) ([]Template, error) {
	urls := form.Exercise.TemplateURLs()
	if len(urls) != len(form.FileFields()) {
		return nil, fmt.Errorf("%w: %d templates for %d file fields",
			ErrTemplateCount, len(urls), len(form.FileFields()))
	}
	return f.FetchAll(ctx, urls)
}
