// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package proxyconf owns the per-task proxychains4 configuration files.
// Each running task that uses a SOCKS5 proxy holds exactly one file, and the
// file is removed on every exit path.
package proxyconf

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/restream/internal/log"
	"github.com/ManuGH/restream/internal/metrics"
)

const (
	filePrefix = "proxychains_"
	fileSuffix = ".conf"
	fileMode   = 0o644
)

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Handle identifies an acquired config. The zero Handle means "no proxy".
type Handle struct {
	TaskID string
	Path   string
}

// IsZero reports whether the handle carries no config.
func (h Handle) IsZero() bool { return h.Path == "" }

// Manager writes and removes proxychains configs in a single directory.
type Manager struct {
	dir    string
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	active map[string]string // path -> task id
}

// NewManager prepares dir and returns a manager rooted there.
func NewManager(dir string) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("proxyconf: directory is required")
	}
	// #nosec G301 -- configs are read by proxychains4 running as the same user
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("proxyconf: create dir: %w", err)
	}
	return &Manager{
		dir:    dir,
		logger: xglog.WithComponent("proxyconf"),
		now:    time.Now,
		active: make(map[string]string),
	}, nil
}

// Dir returns the directory configs are written to.
func (m *Manager) Dir() string { return m.dir }

// PathFor returns the config path a task would use.
func (m *Manager) PathFor(taskID string) string {
	return filepath.Join(m.dir, filePrefix+taskID+fileSuffix)
}

// Acquire writes the config for taskID. An empty endpoint returns the zero
// Handle and touches nothing.
func (m *Manager) Acquire(taskID, endpoint string) (Handle, error) {
	if strings.TrimSpace(endpoint) == "" {
		return Handle{}, nil
	}
	if !taskIDPattern.MatchString(taskID) {
		return Handle{}, fmt.Errorf("proxyconf: invalid task id %q", taskID)
	}
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return Handle{}, fmt.Errorf("proxyconf: %w", err)
	}

	path := m.PathFor(taskID)
	if err := writeAtomic(path, Render(taskID, ep, m.now()), fileMode); err != nil {
		return Handle{}, fmt.Errorf("proxyconf: write %s: %w", path, err)
	}

	m.mu.Lock()
	if _, dup := m.active[path]; !dup {
		metrics.ProxyConfigsActive.Inc()
	}
	m.active[path] = taskID
	m.mu.Unlock()

	m.logger.Debug().
		Str(xglog.FieldEvent, "proxy.acquired").
		Str(xglog.FieldTaskID, taskID).
		Str(xglog.FieldPath, path).
		Str("proxy", ep.Redacted()).
		Bool("auth", ep.HasAuth()).
		Msg("proxy config written")
	return Handle{TaskID: taskID, Path: path}, nil
}

// Release deletes the config behind h. It is a no-op for the zero Handle and
// for handles that were already released.
func (m *Manager) Release(h Handle) error {
	if h.IsZero() {
		return nil
	}

	m.mu.Lock()
	if _, ok := m.active[h.Path]; ok {
		delete(m.active, h.Path)
		metrics.ProxyConfigsActive.Dec()
	}
	m.mu.Unlock()

	if err := os.Remove(h.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "proxy.release_failed").
			Str(xglog.FieldTaskID, h.TaskID).
			Str(xglog.FieldPath, h.Path).
			Msg("failed to remove proxy config")
		return fmt.Errorf("proxyconf: remove %s: %w", h.Path, err)
	}
	m.logger.Debug().
		Str(xglog.FieldEvent, "proxy.released").
		Str(xglog.FieldTaskID, h.TaskID).
		Msg("proxy config removed")
	return nil
}

// Active returns the number of configs currently held.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Sweep removes configs not held by this manager, such as files left behind
// by a previous process that crashed. It returns the number removed.
func (m *Manager) Sweep() (int, error) {
	matches, err := filepath.Glob(filepath.Join(m.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return 0, fmt.Errorf("proxyconf: sweep: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	var errs []error
	for _, path := range matches {
		if _, held := m.active[path]; held {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info().
			Str(xglog.FieldEvent, "proxy.swept").
			Int("removed", removed).
			Msg("removed stale proxy configs")
	}
	return removed, errors.Join(errs...)
}

// Render produces the proxychains4 config for one task.
func Render(taskID string, ep Endpoint, now time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# proxychains4 config for task %s\n", taskID)
	fmt.Fprintf(&b, "# generated %s\n\n", now.UTC().Format(time.RFC3339))
	b.WriteString("strict_chain\n")
	b.WriteString("proxy_dns\n")
	b.WriteString("remote_dns_subnet 224\n")
	b.WriteString("tcp_read_time_out 15000\n")
	b.WriteString("tcp_connect_time_out 8000\n\n")
	b.WriteString("[ProxyList]\n")
	if ep.HasAuth() {
		fmt.Fprintf(&b, "socks5 %s %d %s %s\n", ep.Host, ep.Port, ep.Username, ep.Password)
	} else {
		fmt.Fprintf(&b, "socks5 %s %d\n", ep.Host, ep.Port)
	}
	return b.Bytes()
}
