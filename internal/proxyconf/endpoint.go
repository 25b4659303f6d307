// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package proxyconf

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint is a parsed SOCKS5 proxy address.
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string
}

// HasAuth reports whether both credentials are present.
func (e Endpoint) HasAuth() bool { return e.Username != "" && e.Password != "" }

// Redacted renders host:port without credentials, for logs.
func (e Endpoint) Redacted() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoint accepts "host:port", "host:port:user:pass" or
// "socks5://[user:pass@]host:port".
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, errors.New("empty proxy address")
	}

	if strings.Contains(raw, "://") {
		return parseURL(raw)
	}

	parts := strings.Split(raw, ":")
	var ep Endpoint
	switch len(parts) {
	case 2:
		ep = Endpoint{Host: parts[0]}
	case 4:
		ep = Endpoint{Host: parts[0], Username: parts[2], Password: parts[3]}
		if ep.Username == "" || ep.Password == "" {
			return Endpoint{}, errors.New("username and password must both be set")
		}
	default:
		return Endpoint{}, fmt.Errorf("expected host:port or host:port:user:pass, got %d fields", len(parts))
	}
	port, err := parsePort(parts[1])
	if err != nil {
		return Endpoint{}, err
	}
	ep.Port = port
	if ep.Host == "" {
		return Endpoint{}, errors.New("missing proxy host")
	}
	return ep.check()
}

func parseURL(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("malformed proxy url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "socks5", "socks5h":
	default:
		return Endpoint{}, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return Endpoint{}, errors.New("missing proxy host")
	}
	port, err := parsePort(u.Port())
	if err != nil {
		return Endpoint{}, err
	}
	ep := Endpoint{Host: u.Hostname(), Port: port}
	if u.User != nil {
		ep.Username = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	return ep.check()
}

// check rejects values that would split a proxychains ProxyList line.
func (e Endpoint) check() (Endpoint, error) {
	if strings.ContainsAny(e.Host+e.Username+e.Password, " \t\r\n#") {
		return Endpoint{}, errors.New("proxy address contains whitespace or '#'")
	}
	return e, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid proxy port %q", s)
	}
	return port, nil
}
