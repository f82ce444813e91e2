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

// Package transfer moves files across the system boundary: supplier
// feeds in over FTP, marketplace exports out over SFTP.
package transfer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/tombee/catsync/internal/config"
	catsynclog "github.com/tombee/catsync/internal/log"
	"github.com/tombee/catsync/internal/objstore"
	"github.com/tombee/catsync/pkg/errors"
)

// InputKinds maps the logical feed kind to the filename prefix the
// supplier uses in the input directory. Suppliers drop timestamped
// copies (material_20260824.txt and the like), so a kind matches any
// file whose name starts with its prefix; the newest copy wins. The
// locations feed is optional.
var InputKinds = map[string]string{
	"material":  "material",
	"stock":     "stock",
	"price":     "price",
	"locations": "locations",
}

// InputKey is the per-run object key a fetched feed lands under.
func InputKey(runID, kind string) string {
	return fmt.Sprintf("inputs/runs/%s/%s.txt", runID, kind)
}

// FTPClient fetches the raw supplier feeds.
type FTPClient struct {
	cfg    config.FTPConfig
	logger *slog.Logger
}

// NewFTPClient creates an FTP fetcher.
func NewFTPClient(cfg config.FTPConfig, logger *slog.Logger) *FTPClient {
	return &FTPClient{cfg: cfg, logger: catsynclog.WithComponent(logger, "ftp")}
}

// FetchResult describes one fetched feed.
type FetchResult struct {
	Kind  string
	Key   string
	Bytes int64
}

// FetchInputs downloads every known feed into per-run object keys. The
// material, stock, and price feeds are required; a missing locations
// feed is skipped silently (the IT/EU split is optional input).
func (c *FTPClient) FetchInputs(ctx context.Context, objects objstore.Store, runID string) ([]FetchResult, error) {
	if c.cfg.Host == "" {
		return nil, &errors.ConfigError{Key: "FTP_HOST", Reason: "must not be empty"}
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(30 * time.Second),
	}
	if c.cfg.UseTLS {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: c.cfg.Host, MinVersion: tls.VersionTLS12}))
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("ftp dial %s failed: %w", addr, err)
	}
	defer conn.Quit()

	if err := conn.Login(c.cfg.User, c.cfg.Password); err != nil {
		return nil, fmt.Errorf("ftp login failed: %w", err)
	}

	entries, err := conn.List(c.cfg.InputDir)
	if err != nil {
		return nil, fmt.Errorf("ftp list %s failed: %w", c.cfg.InputDir, err)
	}

	var results []FetchResult
	for _, kind := range []string{"material", "stock", "price", "locations"} {
		name := newestMatch(entries, InputKinds[kind])
		if name == "" {
			if kind == "locations" {
				c.logger.Info("locations feed absent, skipping")
				continue
			}
			return nil, fmt.Errorf("no %s feed in %s", kind, c.cfg.InputDir)
		}

		remote := path.Join(c.cfg.InputDir, name)
		data, err := c.retrieve(conn, remote)
		if err != nil {
			return nil, fmt.Errorf("ftp fetch %s failed: %w", remote, err)
		}

		key := InputKey(runID, kind)
		if err := objects.Put(ctx, key, data); err != nil {
			return nil, fmt.Errorf("failed to store %s: %w", key, err)
		}
		c.logger.Info("feed fetched",
			slog.String("kind", kind),
			slog.String("remote", remote),
			slog.String("key", key),
			slog.Int("bytes", len(data)))
		results = append(results, FetchResult{Kind: kind, Key: key, Bytes: int64(len(data))})
	}
	return results, nil
}

// newestMatch picks the most recently modified file whose name starts
// with the kind's prefix. Returns "" when no file matches.
func newestMatch(entries []*ftp.Entry, prefix string) string {
	var best *ftp.Entry
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(e.Name), prefix) {
			continue
		}
		if best == nil || e.Time.After(best.Time) {
			best = e
		}
	}
	if best == nil {
		return ""
	}
	return best.Name
}

func (c *FTPClient) retrieve(conn *ftp.ServerConn, remote string) ([]byte, error) {
	resp, err := conn.Retr(remote)
	if err != nil {
		return nil, err
	}
	defer resp.Close()
	return io.ReadAll(resp)
}
