package denylist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/riskgate/internal/retry"
)

// document is the wire/file format of a deny-list snapshot.
type document struct {
	Version string  `json:"version"`
	Entries []Entry `json:"entries"`
}

// Source produces deny-list snapshots. Implementations read a local file
// or poll a remote endpoint.
type Source interface {
	Load(ctx context.Context) (version string, entries []Entry, err error)
}

// FileSource reads a JSON deny-list document from disk.
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) (string, []Entry, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", nil, fmt.Errorf("read deny-list file: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", nil, fmt.Errorf("parse deny-list file: %w", err)
	}
	return doc.Version, doc.Entries, nil
}

// HTTPSource polls a remote deny-list endpoint.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func (s HTTPSource) Load(ctx context.Context) (string, []Entry, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("create deny-list request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetch deny-list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("deny-list endpoint returned status %d", resp.StatusCode)
	}

	var doc document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", nil, fmt.Errorf("decode deny-list response: %w", err)
	}
	return doc.Version, doc.Entries, nil
}

// Refresher periodically reloads the deny-list from its source.
type Refresher struct {
	checker  *Checker
	source   Source
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewRefresher creates a deny-list refresher.
func NewRefresher(checker *Checker, source Source, interval time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		checker:  checker,
		source:   source,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the refresh loop is actively running.
func (r *Refresher) Running() bool {
	return r.running.Load()
}

// LoadOnce loads the deny-list immediately, retrying transient failures.
// Used at startup so the engine never serves with an empty list when a
// source is configured.
func (r *Refresher) LoadOnce(ctx context.Context) error {
	return retry.Do(ctx, 3, time.Second, func() error {
		version, entries, err := r.source.Load(ctx)
		if err != nil {
			return err
		}
		r.checker.Replace(version, entries)
		return nil
	})
}

// Start begins the refresh loop. Call in a goroutine.
func (r *Refresher) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

// Stop signals the refresher to stop. Safe to call more than once; the
// loop observes the closed channel even when it is mid-refresh.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Refresher) refresh(ctx context.Context) {
	version, entries, err := r.source.Load(ctx)
	if err != nil {
		// Keep serving the previous snapshot.
		r.logger.Warn("deny-list refresh failed", "error", err)
		return
	}

	if version != "" && version == r.checker.Version() {
		return // unchanged
	}

	r.checker.Replace(version, entries)
	r.logger.Info("deny-list refreshed", "version", version, "entries", len(entries))
}
