// Package agent is the node-side daemon: it pulls the synthesized engine
// config from the controller, writes it atomically and reloads the
// engine when the content hash changes.
package agent

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Client talks to the controller's config endpoint using the node's join
// token.
type Client struct {
	Controller string
	Token      string
	HTTP       *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Fetch asks the controller for the node's config. When lastHash still
// matches the controller answers 304 and changed is false.
func (c *Client) Fetch(ctx context.Context, lastHash string) (body []byte, hash string, changed bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Controller+"/api/v1/config", nil)
	if err != nil {
		return nil, "", false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if lastHash != "" {
		req.Header.Set("X-Config-Hash", lastHash)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, "", false, err
	}
	defer resp.Body.Close()
	hash = resp.Header.Get("X-Config-Hash")
	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil, hash, false, nil
	case http.StatusOK:
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", false, err
		}
		return body, hash, true, nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", false, fmt.Errorf("config pull: status %d: %s", resp.StatusCode, msg)
	}
}

// WriteConfigAtomic writes data next to path and renames it into place,
// so the engine never observes a half-written file.
func WriteConfigAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Runner is the apply loop: fetch, check, write, reload, record.
type Runner struct {
	Client     *Client
	State      *State
	ConfigPath string
	// CheckBinary, when set and installed, vets the fetched document with
	// `<binary> check -c` before it replaces the live config.
	CheckBinary string
	// ReloadCmd restarts or reloads the engine after a config change,
	// e.g. ["systemctl", "restart", "sing-box"]. Empty means no reload.
	ReloadCmd []string
}

// RunOnce performs one pull/apply cycle. Returns true when a new config
// was applied.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	last, err := r.State.LastHash()
	if err != nil {
		return false, fmt.Errorf("read state: %w", err)
	}
	body, hash, changed, err := r.Client.Fetch(ctx, last)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	if err := r.check(ctx, body); err != nil {
		return false, err
	}
	if err := WriteConfigAtomic(r.ConfigPath, body); err != nil {
		return false, err
	}
	if err := r.reload(ctx); err != nil {
		return false, err
	}
	if err := r.State.RecordApplied(hash); err != nil {
		return false, fmt.Errorf("record state: %w", err)
	}
	log.Printf("applied config hash=%s path=%s", hash, r.ConfigPath)
	return true, nil
}

// check vets a fetched document against the local engine binary before
// it can replace the running config. Skipped when the binary is absent.
func (r *Runner) check(ctx context.Context, body []byte) error {
	if r.CheckBinary == "" {
		return nil
	}
	bin, err := exec.LookPath(r.CheckBinary)
	if err != nil {
		return nil
	}
	tmp, err := os.CreateTemp("", "relay-fleet-agent-*.json")
	if err != nil {
		return fmt.Errorf("temp check file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write check file: %w", err)
	}
	_ = tmp.Close()
	cmd := exec.CommandContext(ctx, bin, "check", "-c", tmp.Name())
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("fetched config rejected by %s: %w output=%s", r.CheckBinary, err, string(out))
	}
	return nil
}

func (r *Runner) reload(ctx context.Context) error {
	if len(r.ReloadCmd) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, r.ReloadCmd[0], r.ReloadCmd[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("reload engine: %w output=%s", err, string(out))
	}
	return nil
}

// Watch polls on the interval and additionally wakes up on pushes from
// the notify channel. Errors are logged and retried on the next tick.
func (r *Runner) Watch(ctx context.Context, interval time.Duration, notify <-chan struct{}) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil {
			log.Printf("config pull failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-notify:
			log.Printf("config change pushed by controller")
		}
	}
}
