// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package proxyconf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    Endpoint
		wantErr bool
	}{
		{in: "127.0.0.1:1080", want: Endpoint{Host: "127.0.0.1", Port: 1080}},
		{in: " proxy.local:9050 ", want: Endpoint{Host: "proxy.local", Port: 9050}},
		{in: "10.0.0.2:1080:alice:s3cret", want: Endpoint{Host: "10.0.0.2", Port: 1080, Username: "alice", Password: "s3cret"}},
		{in: "socks5://bob:pw@10.0.0.3:1081", want: Endpoint{Host: "10.0.0.3", Port: 1081, Username: "bob", Password: "pw"}},
		{in: "socks5h://[::1]:1080", want: Endpoint{Host: "::1", Port: 1080}},
		{in: "", wantErr: true},
		{in: "host", wantErr: true},
		{in: "host:0", wantErr: true},
		{in: "host:70000", wantErr: true},
		{in: ":1080", wantErr: true},
		{in: "host:1080:user", wantErr: true},
		{in: "host:1080:user:", wantErr: true},
		{in: "http://host:8080", wantErr: true},
		{in: "socks5://host", wantErr: true},
		{in: "host:1080:us er:pw", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEndpoint(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	plain := string(Render("t1", Endpoint{Host: "1.2.3.4", Port: 1080}, now))
	for _, line := range []string{
		"strict_chain", "proxy_dns", "remote_dns_subnet 224",
		"tcp_read_time_out 15000", "tcp_connect_time_out 8000", "[ProxyList]",
	} {
		assert.Contains(t, plain, line+"\n")
	}
	assert.True(t, strings.HasSuffix(plain, "[ProxyList]\nsocks5 1.2.3.4 1080\n"), plain)

	auth := string(Render("t1", Endpoint{Host: "1.2.3.4", Port: 1080, Username: "u", Password: "p"}, now))
	assert.True(t, strings.HasSuffix(auth, "socks5 1.2.3.4 1080 u p\n"), auth)
}

func TestManager_AcquireRelease(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	h, err := m.Acquire("task-1", "127.0.0.1:1080:u:p")
	require.NoError(t, err)
	require.False(t, h.IsZero())
	assert.Equal(t, filepath.Join(dir, "proxychains_task-1.conf"), h.Path)
	assert.Equal(t, 1, m.Active())

	info, err := os.Stat(h.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	data, err := os.ReadFile(h.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "socks5 127.0.0.1 1080 u p")

	require.NoError(t, m.Release(h))
	assert.NoFileExists(t, h.Path)
	assert.Equal(t, 0, m.Active())

	// Idempotent.
	require.NoError(t, m.Release(h))
	assert.Equal(t, 0, m.Active())
}

func TestManager_NoProxyIsNoop(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	h, err := m.Acquire("task-1", "  ")
	require.NoError(t, err)
	assert.True(t, h.IsZero())
	require.NoError(t, m.Release(h))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_RejectsBadInput(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	_, err = m.Acquire("../escape", "127.0.0.1:1080")
	require.Error(t, err)

	_, err = m.Acquire("task-1", "nonsense")
	require.Error(t, err)
	assert.Equal(t, 0, m.Active())

	_, err = NewManager("")
	require.Error(t, err)
}

func TestManager_IsolatedPerTask(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	a, err := m.Acquire("a", "10.0.0.1:1080")
	require.NoError(t, err)
	b, err := m.Acquire("b", "10.0.0.2:1080")
	require.NoError(t, err)
	require.NotEqual(t, a.Path, b.Path)

	require.NoError(t, m.Release(a))
	assert.FileExists(t, b.Path)
	assert.Equal(t, 1, m.Active())
	require.NoError(t, m.Release(b))
}

func TestManager_Sweep(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	stale := filepath.Join(dir, "proxychains_old.conf")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	unrelated := filepath.Join(dir, "keep.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("x"), 0o644))

	held, err := m.Acquire("live", "10.0.0.1:1080")
	require.NoError(t, err)

	n, err := m.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, unrelated)
	assert.FileExists(t, held.Path)
}
