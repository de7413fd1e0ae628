package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func fakeController(t *testing.T, body string, hash string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/config" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer join-tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("X-Config-Hash", hash)
		if r.Header.Get("X-Config-Hash") == hash {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunOnceAppliesAndSkips(t *testing.T) {
	srv := fakeController(t, `{"log": {"level": "warn"}}`, "abc123")
	dir := t.TempDir()
	state, err := OpenState(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	defer state.Close()

	r := &Runner{
		Client:     &Client{Controller: srv.URL, Token: "join-tok"},
		State:      state,
		ConfigPath: filepath.Join(dir, "config.json"),
	}
	applied, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !applied {
		t.Fatalf("first run must apply")
	}
	data, err := os.ReadFile(r.ConfigPath)
	if err != nil || string(data) != `{"log": {"level": "warn"}}` {
		t.Fatalf("config not written: %v %q", err, data)
	}
	last, err := state.LastHash()
	if err != nil || last != "abc123" {
		t.Fatalf("state not recorded: %v %q", err, last)
	}

	applied, err = r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if applied {
		t.Fatalf("unchanged config must not re-apply")
	}
}

func TestRunOnceRejectsBadToken(t *testing.T) {
	srv := fakeController(t, `{}`, "h")
	dir := t.TempDir()
	state, err := OpenState(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	defer state.Close()
	r := &Runner{
		Client:     &Client{Controller: srv.URL, Token: "wrong"},
		State:      state,
		ConfigPath: filepath.Join(dir, "config.json"),
	}
	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected auth failure")
	}
}

func TestRunOnceRejectedByCheck(t *testing.T) {
	srv := fakeController(t, `{"log": {}}`, "h1")
	dir := t.TempDir()
	state, err := OpenState(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	defer state.Close()
	fake := filepath.Join(dir, "fake-check")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("fake checker: %v", err)
	}
	r := &Runner{
		Client:      &Client{Controller: srv.URL, Token: "join-tok"},
		State:       state,
		ConfigPath:  filepath.Join(dir, "config.json"),
		CheckBinary: fake,
	}
	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Fatalf("rejected config must not be applied")
	}
	if _, err := os.Stat(r.ConfigPath); !os.IsNotExist(err) {
		t.Fatalf("rejected config written to disk")
	}
	if last, _ := state.LastHash(); last != "" {
		t.Fatalf("rejected config recorded as applied: %q", last)
	}
}

func TestWriteConfigAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.json")
	if err := WriteConfigAtomic(path, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config must be 0600, got %v", info.Mode().Perm())
	}
	// Overwrite leaves no stray temp files behind.
	if err := WriteConfigAtomic(path, []byte(`{"a":2}`)); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestStateHistoryTrimmed(t *testing.T) {
	dir := t.TempDir()
	state, err := OpenState(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	defer state.Close()
	for i := 0; i < 60; i++ {
		if err := state.RecordApplied("h"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	last, err := state.LastHash()
	if err != nil || last != "h" {
		t.Fatalf("last hash: %v %q", err, last)
	}
}
