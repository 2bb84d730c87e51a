package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/bdougie/restyle/internal/config"
	"github.com/bdougie/restyle/internal/models"
)

// Client submits restyle jobs to a backend's /prompt endpoint and waits for
// the result image to appear in the backend's output directory.
type Client struct {
	http      *http.Client
	outputDir string
	subdir    string
	poll      time.Duration
	settle    time.Duration
	maxWait   time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	templates map[string][]byte
}

// NewClient creates a Client from the backend configuration
func NewClient(cfg config.BackendConfig, logger *slog.Logger) *Client {
	return &Client{
		http:      &http.Client{Timeout: cfg.SubmitTimeout},
		outputDir: cfg.OutputDir,
		subdir:    cfg.OutputSubdir,
		poll:      cfg.PollInterval,
		settle:    cfg.SettleDelay,
		maxWait:   cfg.MaxWait,
		logger:    logger.With("component", "backend_client"),
		templates: make(map[string][]byte),
	}
}

// ArtifactPath is where a backend writes the first image for prefix.
func (c *Client) ArtifactPath(prefix string) string {
	return filepath.Join(c.outputDir, filepath.FromSlash(prefix)+"_00001_.png")
}

// Submit runs job on the backend at endpoint. It returns
// models.ErrOutputExists without contacting the backend if the job's output
// already exists.
func (c *Client) Submit(ctx context.Context, endpoint string, job *models.Job) error {
	if models.Exists(job.Output) {
		c.logger.Debug("output exists, skipping", "job", job.String())
		return fmt.Errorf("%w: %s", models.ErrOutputExists, job.Output)
	}

	tmpl, err := c.template(job.Prompt)
	if err != nil {
		return err
	}
	input, err := os.ReadFile(job.Input)
	if err != nil {
		return fmt.Errorf("%w: failed to read input image: %v", ErrJobInvalid, err)
	}
	mask, err := os.ReadFile(job.Mask)
	if err != nil {
		return fmt.Errorf("%w: failed to read mask image: %v", ErrJobInvalid, err)
	}

	prefix := path.Join(c.subdir, uuid.NewString())
	doc, err := BuildPrompt(tmpl, input, mask, prefix)
	if err != nil {
		return err
	}

	if err := c.sendPrompt(ctx, endpoint, doc); err != nil {
		return err
	}
	c.logger.Debug("prompt sent", "job", job.String(), "endpoint", endpoint, "prefix", prefix)

	artifact := c.ArtifactPath(prefix)
	if err := waitForFile(ctx, artifact, c.poll, c.settle, c.maxWait); err != nil {
		return err
	}

	if err := moveFile(artifact, job.Output); err != nil {
		return fmt.Errorf("%w: failed to move result to '%s': %v", ErrLocal, job.Output, err)
	}
	return nil
}

func (c *Client) template(name string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.templates[name]; ok {
		return t, nil
	}
	t, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read prompt template: %v", ErrJobInvalid, err)
	}
	c.templates[name] = t
	return t, nil
}

// sendPrompt posts {"prompt": doc}. The response body carries nothing we need.
func (c *Client) sendPrompt(ctx context.Context, endpoint string, doc map[string]any) error {
	body, err := json.Marshal(map[string]any{"prompt": doc})
	if err != nil {
		return fmt.Errorf("%w: failed to encode prompt: %v", ErrJobInvalid, err)
	}

	url := strings.TrimSuffix(endpoint, "/") + "/prompt"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJobInvalid, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send prompt to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend %s rejected prompt: %s", endpoint, resp.Status)
	}
	return nil
}

// Probe reports whether the backend at endpoint answers.
func (c *Client) Probe(ctx context.Context, endpoint string) error {
	url := strings.TrimSuffix(endpoint, "/") + "/system_stats"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// waitForFile polls for name every interval, then waits settle so a partially
// written file is not read. maxWait of zero waits forever.
func waitForFile(ctx context.Context, name string, interval, settle, maxWait time.Duration) error {
	waitCtx := ctx
	if maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s after %s", ErrWaitTimeout, name, maxWait)
		}
		if models.Exists(name) {
			break
		}
	}

	if settle <= 0 {
		return nil
	}
	timer := time.NewTimer(settle)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return err
	}

	// Cross-device rename; copy then remove
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := dst + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
