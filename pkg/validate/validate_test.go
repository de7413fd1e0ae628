package validate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"relay-fleet/pkg/singbox"
)

func minimalDoc() *singbox.Document {
	return &singbox.Document{
		Log:       singbox.LogConfig{Level: "warn"},
		Outbounds: []singbox.Outbound{{Type: "direct", Tag: "direct"}},
	}
}

func TestMissingBinaryPasses(t *testing.T) {
	c := Checker{Binary: "definitely-not-installed-anywhere"}
	if err := c.Validate(context.Background(), minimalDoc()); err != nil {
		t.Fatalf("missing checker binary must soft-pass, got %v", err)
	}
}

func TestCheckFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	fake := filepath.Join(dir, "fake-check")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("write fake checker: %v", err)
	}
	c := Checker{Binary: fake}
	if err := c.Validate(context.Background(), minimalDoc()); err == nil {
		t.Fatalf("failing checker must be a hard error")
	}
}

func TestCheckSuccessPasses(t *testing.T) {
	dir := t.TempDir()
	fake := filepath.Join(dir, "fake-check")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write fake checker: %v", err)
	}
	c := Checker{Binary: fake}
	if err := c.Validate(context.Background(), minimalDoc()); err != nil {
		t.Fatalf("passing checker should succeed, got %v", err)
	}
}
