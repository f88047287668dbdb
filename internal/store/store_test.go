package store

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTokenCRUD(t *testing.T) {
	s := newTestStore(t)

	// Missing key returns empty string, no error.
	value, err := s.GetToken(KeyToken)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if value != "" {
		t.Errorf("expected empty value, got %q", value)
	}

	// Set and retrieve.
	if err := s.SetToken(KeyToken, `"abc"`); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	value, err = s.GetToken(KeyToken)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if value != `"abc"` {
		t.Errorf("expected %q, got %q", `"abc"`, value)
	}

	// Upsert replaces.
	if err := s.SetToken(KeyToken, `"def"`); err != nil {
		t.Fatalf("SetToken update: %v", err)
	}
	value, _ = s.GetToken(KeyToken)
	if value != `"def"` {
		t.Errorf("expected %q, got %q", `"def"`, value)
	}

	// Delete one key.
	if err := s.DeleteToken(KeyToken); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	value, _ = s.GetToken(KeyToken)
	if value != "" {
		t.Errorf("expected empty after delete, got %q", value)
	}
}

func TestClearTokens(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetToken(KeyToken, `"a"`); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if err := s.SetToken(KeyGraderToken, `"b"`); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	if err := s.ClearTokens(); err != nil {
		t.Fatalf("ClearTokens: %v", err)
	}
	for _, key := range []string{KeyToken, KeyGraderToken} {
		value, err := s.GetToken(key)
		if err != nil {
			t.Fatalf("GetToken(%s): %v", key, err)
		}
		if value != "" {
			t.Errorf("key %s survived ClearTokens: %q", key, value)
		}
	}
}

func TestDraftCRUD(t *testing.T) {
	s := newTestStore(t)

	// Missing draft returns empty string.
	code, err := s.GetDraft(7)
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if code != "" {
		t.Errorf("expected empty draft, got %q", code)
	}

	// Save and retrieve.
	if err := s.SaveDraft(7, "package main"); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	code, err = s.GetDraft(7)
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if code != "package main" {
		t.Errorf("expected draft content, got %q", code)
	}

	// Every save replaces the draft wholesale.
	if err := s.SaveDraft(7, "package main\n\nfunc main() {}"); err != nil {
		t.Fatalf("SaveDraft update: %v", err)
	}
	code, _ = s.GetDraft(7)
	if code != "package main\n\nfunc main() {}" {
		t.Errorf("expected updated draft, got %q", code)
	}

	// Drafts are per exercise.
	if err := s.SaveDraft(8, "other"); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	code, _ = s.GetDraft(7)
	if code != "package main\n\nfunc main() {}" {
		t.Errorf("draft for exercise 7 changed: %q", code)
	}

	// Delete.
	if err := s.DeleteDraft(7); err != nil {
		t.Fatalf("DeleteDraft: %v", err)
	}
	code, _ = s.GetDraft(7)
	if code != "" {
		t.Errorf("expected empty draft after delete, got %q", code)
	}
	code, _ = s.GetDraft(8)
	if code != "other" {
		t.Errorf("unrelated draft deleted: %q", code)
	}
}
