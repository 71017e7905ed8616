package httpclient

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/torosent/rampfire/internal/config"
)

// NewClient returns the pooled client shared by every dispatch of one worker.
// MaxSockets caps the connections per host and MaxFreeSockets caps how many
// of them stay idle between phases. Idle connections are handed out most
// recently returned first. The client has no overall timeout; the dispatcher
// bounds each request with its own deadline.
func NewClient(cfg config.Config) *http.Client {
	maxConns := cfg.MaxSockets
	if maxConns < 1 {
		maxConns = config.DefaultPoolSize
	}
	maxIdle := cfg.MaxFreeSockets
	if maxIdle < 1 {
		maxIdle = config.DefaultPoolSize
	}
	if maxIdle > maxConns {
		maxIdle = maxConns
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxConnsPerHost:       maxConns,
		MaxIdleConnsPerHost:   maxIdle,
		MaxIdleConns:          maxIdle,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{Transport: transport}
}

// JoinURL appends path to the target base URL with exactly one slash between
// them.
func JoinURL(target, path string) string {
	if path == "" {
		return target
	}
	return strings.TrimRight(target, "/") + "/" + strings.TrimLeft(path, "/")
}
