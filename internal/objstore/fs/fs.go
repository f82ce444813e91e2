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

// Package fs provides a filesystem-backed object store for local and
// single-node deployments. Signed URLs are served by the daemon's own
// /files endpoint with an HMAC token, so Range semantics match a real
// object store.
package fs

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/catsync/internal/objstore"
	"github.com/tombee/catsync/pkg/errors"
)

// Store is a filesystem-backed object store.
type Store struct {
	root    string
	baseURL string
	secret  []byte

	// Now is the clock, injectable for URL expiry tests.
	Now func() time.Time
}

var _ objstore.Store = (*Store)(nil)

// Config contains filesystem store configuration.
type Config struct {
	// Root is the directory holding all objects.
	Root string

	// BaseURL is the externally reachable prefix of the daemon's
	// /files endpoint, e.g. "http://127.0.0.1:8484/files". Empty
	// disables SignedURL.
	BaseURL string

	// Secret signs URL tokens. Required when BaseURL is set.
	Secret string
}

// New creates a filesystem store rooted at cfg.Root.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, &errors.ConfigError{Key: "objstore.root", Reason: "must not be empty"}
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object root: %w", err)
	}
	if cfg.BaseURL != "" && cfg.Secret == "" {
		return nil, &errors.ConfigError{Key: "objstore.secret", Reason: "required when base_url is set"}
	}
	return &Store{
		root:    cfg.Root,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  []byte(cfg.Secret),
		Now:     time.Now,
	}, nil
}

func (s *Store) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if strings.Contains(clean, "..") {
		return "", &errors.ValidationError{Field: "key", Message: "path traversal rejected"}
	}
	return filepath.Join(s.root, clean), nil
}

// Put writes an object, creating parent directories as needed.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return os.Rename(tmp, p)
}

// Get reads an object.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, &errors.NotFoundError{Resource: "object", ID: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Exists reports whether an object is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes an object; missing keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// List returns all keys under a prefix, sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// SignedURL returns a /files URL with an expiring HMAC token.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if s.baseURL == "" {
		return "", &errors.ConfigError{Key: "objstore.base_url", Reason: "signed URLs disabled"}
	}
	expires := s.Now().Add(ttl).Unix()
	token := s.sign(key, expires)
	return fmt.Sprintf("%s/%s?expires=%d&token=%s",
		s.baseURL, urlEncodePath(key), expires, token), nil
}

func urlEncodePath(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func (s *Store) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyToken checks a /files request token and expiry.
func (s *Store) VerifyToken(key, token string, expires int64) bool {
	if expires < s.Now().Unix() {
		return false
	}
	want := s.sign(key, expires)
	return hmac.Equal([]byte(want), []byte(token))
}

// ServeHTTP serves objects under the /files endpoint with Range
// support. URLs must carry a valid expires/token pair.
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/files/")
	expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
	if err != nil || !s.VerifyToken(key, r.URL.Query().Get("token"), expires) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	p, err := s.path(key)
	if err != nil {
		http.Error(w, "bad key", http.StatusBadRequest)
		return
	}
	// http.ServeFile implements Range semantics (206/416).
	http.ServeFile(w, r, p)
}
