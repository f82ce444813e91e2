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

// Package objstore abstracts the object storage that holds feed inputs,
// pipeline intermediates, and published exports.
package objstore

import (
	"context"
	"time"
)

// Store is the object storage contract. Keys are slash-separated paths
// (e.g. "state/{run_id}/stock_index.json").
type Store interface {
	// Put writes an object, replacing any existing content.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads an object. Missing keys return a NotFoundError.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys under a prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// SignedURL returns an HTTP URL that serves the object and honors
	// Range requests, valid for at least ttl.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
