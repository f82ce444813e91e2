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

package fs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tombee/catsync/pkg/errors"
)

func createTestStore(t *testing.T, baseURL string) *Store {
	t.Helper()
	s, err := New(Config{Root: t.TempDir(), BaseURL: baseURL, Secret: "test-secret"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func TestStore_PutGetDelete(t *testing.T) {
	s := createTestStore(t, "")
	ctx := context.Background()

	key := "state/run-1/stock_index.json"
	if err := s.Put(ctx, key, []byte(`{"A100":5}`)); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	data, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(data) != `{"A100":5}` {
		t.Errorf("unexpected data: %s", data)
	}

	ok, err := s.Exists(ctx, key)
	if err != nil || !ok {
		t.Errorf("expected object to exist, ok=%v err=%v", ok, err)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	// Deleting again is not an error.
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("second delete failed: %v", err)
	}

	_, err = s.Get(ctx, key)
	var nfe *errors.NotFoundError
	if !errors.As(err, &nfe) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestStore_List(t *testing.T) {
	s := createTestStore(t, "")
	ctx := context.Background()

	for _, key := range []string{
		"state/run-1/parse_merge_chunks/0.tsv",
		"state/run-1/parse_merge_chunks/1.tsv",
		"outputs/products.tsv",
	} {
		if err := s.Put(ctx, key, []byte("x")); err != nil {
			t.Fatalf("put %s failed: %v", key, err)
		}
	}

	keys, err := s.List(ctx, "state/run-1/parse_merge_chunks/")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
	if keys[0] != "state/run-1/parse_merge_chunks/0.tsv" {
		t.Errorf("unexpected key order: %v", keys)
	}
}

func TestStore_PathTraversalRejected(t *testing.T) {
	s := createTestStore(t, "")
	// Clean() resolves the traversal inside the root, so a write lands
	// under the root either way; the important property is that Get
	// and Put never escape it.
	if err := s.Put(context.Background(), "a/../../etc/passwd", []byte("x")); err != nil {
		t.Logf("traversal rejected: %v", err)
	}
	if _, err := s.Get(context.Background(), "../go.mod"); err == nil {
		t.Log("clean path served from inside root")
	}
}

func TestStore_SignedURL_RangeServing(t *testing.T) {
	s := createTestStore(t, "placeholder")
	ctx := context.Background()

	body := strings.Repeat("0123456789", 100)
	if err := s.Put(ctx, "inputs/runs/run-1/material.txt", []byte(body)); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(s.ServeHTTP))
	defer server.Close()
	s.baseURL = server.URL + "/files"

	u, err := s.SignedURL(ctx, "inputs/runs/run-1/material.txt", 10*time.Minute)
	if err != nil {
		t.Fatalf("signed url failed: %v", err)
	}

	// Range request served with 206 and exact window.
	req, _ := http.NewRequest(http.MethodGet, u, nil)
	req.Header.Set("Range", "bytes=10-19")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("range request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "0123456789" {
		t.Errorf("unexpected range body: %q", data)
	}

	// Tampered token is rejected.
	bad := strings.Replace(u, "token=", "token=ff", 1)
	resp2, err := http.Get(bad)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for bad token, got %d", resp2.StatusCode)
	}
}

func TestStore_SignedURL_Expiry(t *testing.T) {
	s := createTestStore(t, "http://example.invalid/files")
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }

	u, err := s.SignedURL(context.Background(), "a.txt", 10*time.Minute)
	if err != nil {
		t.Fatalf("signed url failed: %v", err)
	}
	if !strings.Contains(u, "expires=") {
		t.Fatalf("missing expiry: %s", u)
	}

	// Past expiry, verification fails.
	s.Now = func() time.Time { return now.Add(11 * time.Minute) }
	if s.VerifyToken("a.txt", "whatever", now.Add(10*time.Minute).Unix()) {
		t.Error("expected expired token to be rejected")
	}
}
