// Package validate runs the assembled document through the engine's own
// offline syntax checker before it may reach a node.
package validate

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"relay-fleet/pkg/singbox"
)

// DefaultBinary is the engine binary looked up on PATH.
const DefaultBinary = "sing-box"

// DefaultTimeout bounds the external check invocation.
const DefaultTimeout = 5 * time.Second

// Checker shells out to the engine's `check` subcommand. A missing binary
// passes with a warning so control-plane hosts without the engine
// installed keep working; a check that runs and reports invalid is a hard
// failure.
type Checker struct {
	Binary  string
	Timeout time.Duration
}

func (c Checker) binary() string {
	if c.Binary == "" {
		return DefaultBinary
	}
	return c.Binary
}

func (c Checker) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Validate serializes the document and hands it to the checker.
func (c Checker) Validate(ctx context.Context, doc *singbox.Document) error {
	bin, err := exec.LookPath(c.binary())
	if err != nil {
		log.Printf("config check skipped: %s not installed", c.binary())
		return nil
	}
	b, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("serialize document: %w", err)
	}
	dir, err := os.MkdirTemp("", "relay-fleet-check-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	cmd := exec.CommandContext(ctx, bin, "check", "-c", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s check failed: %w output=%s", c.binary(), err, string(out))
	}
	return nil
}
