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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/tombee/catsync/internal/config"
	"github.com/tombee/catsync/internal/fetch"
	"github.com/tombee/catsync/internal/log"
	"github.com/tombee/catsync/internal/notify"
	"github.com/tombee/catsync/internal/objstore"
	fsstore "github.com/tombee/catsync/internal/objstore/fs"
	s3store "github.com/tombee/catsync/internal/objstore/s3"
	"github.com/tombee/catsync/internal/pipeline"
	"github.com/tombee/catsync/internal/steps"
	"github.com/tombee/catsync/internal/store"
	memstore "github.com/tombee/catsync/internal/store/memory"
	"github.com/tombee/catsync/internal/store/sqlite"
	"github.com/tombee/catsync/internal/transfer"
)

// deps is the assembled daemon dependency graph.
type deps struct {
	cfg    *config.Config
	logger *slog.Logger
	store  store.Store
	orch   *pipeline.Orchestrator

	// files serves fs-backend signed URLs; nil for the s3 backend.
	files http.Handler

	closers []func() error
}

// Close releases held resources in reverse construction order.
func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("close failed", log.Error(err))
		}
	}
}

// buildDeps loads configuration and assembles the pipeline: store,
// object store, feed clients, notifier, step runner, orchestrator.
func buildDeps(ctx context.Context, configPath string) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := log.New(&log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		Output:    os.Stderr,
		AddSource: cfg.Log.AddSource,
	})
	slog.SetDefault(logger)

	d := &deps{cfg: cfg, logger: logger}

	switch cfg.Store.Type {
	case "sqlite":
		st, err := sqlite.New(sqlite.Config{Path: cfg.Store.Path, WAL: true})
		if err != nil {
			return nil, fmt.Errorf("store setup failed: %w", err)
		}
		d.store = st
		d.closers = append(d.closers, st.Close)
	case "memory":
		d.store = memstore.New()
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}

	var objects objstore.Store
	switch cfg.ObjStore.Type {
	case "fs":
		fs, err := fsstore.New(fsstore.Config{
			Root:    cfg.ObjStore.Root,
			BaseURL: cfg.ObjStore.BaseURL,
			Secret:  cfg.ObjStore.Secret,
		})
		if err != nil {
			return nil, fmt.Errorf("object store setup failed: %w", err)
		}
		objects = fs
		d.files = fs
	case "s3":
		s3, err := s3store.New(ctx, s3store.Config{
			Bucket:   cfg.ObjStore.Bucket,
			Prefix:   cfg.ObjStore.Prefix,
			Region:   cfg.ObjStore.Region,
			Endpoint: cfg.ObjStore.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("object store setup failed: %w", err)
		}
		objects = s3
	default:
		return nil, fmt.Errorf("unknown object store type %q", cfg.ObjStore.Type)
	}

	var notifier notify.Notifier = notify.Nop{Logger: logger}
	if cfg.Mail.Enabled {
		notifier = notify.NewMailer(cfg.Mail, logger)
	}

	runner := steps.New(
		d.store,
		objects,
		fetch.New(fetch.DefaultConfig()),
		transfer.NewFTPClient(cfg.FTP, logger),
		transfer.NewSFTPUploader(cfg.SFTP, logger),
		notifier,
		cfg,
		logger,
	)

	d.orch = pipeline.New(d.store, runner, logger, pipeline.Budgets{
		Orchestrator:   cfg.Sync.OrchestratorBudget,
		ParseMerge:     cfg.Sync.ParseMergeBudget,
		LockTTL:        cfg.Sync.LockTTL,
		StepMaxRetries: cfg.Sync.StepMaxRetries,
	})
	return d, nil
}
