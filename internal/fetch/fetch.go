// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fetch provides the HTTP Range client used to stream the
// material feed from a signed object-store URL without loading it
// fully into memory.
package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Config contains fetch client configuration.
type Config struct {
	// Timeout bounds each request end to end.
	Timeout time.Duration

	// UserAgent is sent on every request.
	UserAgent string

	// MaxBodyBytes caps how much of a response body is read. Guards
	// against servers that ignore Range and stream the full file.
	MaxBodyBytes int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      60 * time.Second,
		UserAgent:    "catsync/1.0",
		MaxBodyBytes: 64 * 1024 * 1024,
	}
}

// Client issues HEAD and Range requests against signed URLs.
type Client struct {
	http *http.Client
	cfg  Config
}

// New creates a fetch client with TLS 1.2+ and pooled connections,
// mirroring the shared HTTP client factory.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 * 1024 * 1024
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS13,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		http: &http.Client{
			Transport: &userAgentTransport{base: transport, userAgent: cfg.UserAgent},
			Timeout:   cfg.Timeout,
		},
		cfg: cfg,
	}
}

// userAgentTransport injects the User-Agent header on every request.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

// HeadResult is the outcome of a HEAD probe.
type HeadResult struct {
	// ContentLength is the reported size; -1 when the server omits it.
	ContentLength int64

	// StatusCode is the HTTP status.
	StatusCode int
}

// Head issues a HEAD request to learn the object size.
func (c *Client) Head(ctx context.Context, url string) (*HeadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build HEAD request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HEAD request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return &HeadResult{ContentLength: resp.ContentLength, StatusCode: resp.StatusCode}, nil
}

// RangeResult is the outcome of one Range request.
type RangeResult struct {
	// StatusCode is the HTTP status: 206 for a honored range, 200 for
	// a full-body response, 416 past EOF.
	StatusCode int

	// Body is the fetched bytes, capped at MaxBodyBytes.
	Body []byte

	// ContentRange is the raw Content-Range header, if any.
	ContentRange string

	// ContentLength is the reported Content-Length, -1 when absent.
	ContentLength int64

	// Truncated is set when the body hit the MaxBodyBytes cap.
	Truncated bool
}

// GetRange fetches bytes [start, end] inclusive.
func (c *Client) GetRange(ctx context.Context, url string, start, end int64) (*RangeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build range request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("range request failed: %w", err)
	}
	defer resp.Body.Close()

	// Read one byte past the cap so Truncated is detectable.
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read range body: %w", err)
	}
	truncated := false
	if int64(len(body)) > c.cfg.MaxBodyBytes {
		body = body[:c.cfg.MaxBodyBytes]
		truncated = true
	}

	return &RangeResult{
		StatusCode:    resp.StatusCode,
		Body:          body,
		ContentRange:  resp.Header.Get("Content-Range"),
		ContentLength: resp.ContentLength,
		Truncated:     truncated,
	}, nil
}
