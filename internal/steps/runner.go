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

// Package steps implements the thirteen pipeline steps behind the
// orchestrator's StepRunner contract. Each handler reads its own
// step-private state from the run record, does at most one budgeted
// unit of work, and reports an outcome; durable progress goes through
// the store's merge RPCs and the object store.
package steps

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/catsync/internal/config"
	"github.com/tombee/catsync/internal/export"
	"github.com/tombee/catsync/internal/fetch"
	catsynclog "github.com/tombee/catsync/internal/log"
	"github.com/tombee/catsync/internal/notify"
	"github.com/tombee/catsync/internal/objstore"
	"github.com/tombee/catsync/internal/pipeline"
	"github.com/tombee/catsync/internal/pricing"
	"github.com/tombee/catsync/internal/store"
	"github.com/tombee/catsync/internal/transfer"
	"github.com/tombee/catsync/pkg/errors"
)

// Well-known object keys outside the per-run trees.
const (
	// MappingKey is the optional MPN-to-EAN mapping feed.
	MappingKey = "inputs/mpn_ean_mapping.txt"

	// OverridesKey is the optional manual price/exclusion list.
	OverridesKey = "inputs/overrides.tsv"

	// AmazonTemplateKey is the macro-carrying listing loader workbook
	// the Amazon export is rendered into.
	AmazonTemplateKey = "templates/amazon_listing_loader.xlsm"
)

// stateKey addresses a per-run pipeline intermediate.
func stateKey(runID, name string) string {
	return fmt.Sprintf("state/%s/%s", runID, name)
}

// chunkKey addresses one parse_merge chunk file.
func chunkKey(runID string, idx int) string {
	return fmt.Sprintf("state/%s/parse_merge_chunks/%d.tsv", runID, idx)
}

// outputKey addresses a per-run output artifact.
func outputKey(runID, name string) string {
	return fmt.Sprintf("outputs/runs/%s/%s", runID, name)
}

// Runner executes pipeline steps against the object store and the
// external transfer endpoints.
type Runner struct {
	store    store.Store
	objects  objstore.Store
	fetch    *fetch.Client
	ftp      *transfer.FTPClient
	sftp     *transfer.SFTPUploader
	notifier notify.Notifier
	cfg      *config.Config
	logger   *slog.Logger

	// Now is the clock, injectable for tests.
	Now func() time.Time
}

var _ pipeline.StepRunner = (*Runner)(nil)

// New creates a step runner.
func New(
	st store.Store,
	objects objstore.Store,
	fetchClient *fetch.Client,
	ftpClient *transfer.FTPClient,
	sftpUploader *transfer.SFTPUploader,
	notifier notify.Notifier,
	cfg *config.Config,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		store:    st,
		objects:  objects,
		fetch:    fetchClient,
		ftp:      ftpClient,
		sftp:     sftpUploader,
		notifier: notifier,
		cfg:      cfg,
		logger:   catsynclog.WithComponent(logger, "steps"),
		Now:      time.Now,
	}
}

// RunStep dispatches one step of the pipeline.
func (r *Runner) RunStep(ctx context.Context, run *store.Run, step string) pipeline.Outcome {
	logger := catsynclog.WithStepContext(r.logger, run.ID, step)

	switch step {
	case store.StepImportFTP:
		return r.runImportFTP(ctx, run, logger)
	case store.StepParseMerge:
		return r.runParseMerge(ctx, run, logger)
	case store.StepEANMapping:
		return r.runEANMapping(ctx, run, logger)
	case store.StepPricing:
		return r.runPricing(ctx, run, logger)
	case store.StepOverrideProduct:
		return r.runOverrides(ctx, run, logger)
	case store.StepExportEAN:
		return r.runExportEAN(ctx, run, logger)
	case store.StepExportEANXLSX:
		return r.runExportEANXLSX(ctx, run, logger)
	case store.StepExportAmazon:
		return r.runExportAmazon(ctx, run, logger)
	case store.StepExportMW:
		return r.runExportMediaWorld(ctx, run, logger)
	case store.StepExportEPrice:
		return r.runExportEPrice(ctx, run, logger)
	case store.StepUploadSFTP:
		return r.runUploadSFTP(ctx, run, logger)
	case store.StepVersioning:
		return r.runVersioning(ctx, run, logger)
	case store.StepNotification:
		return r.runNotification(ctx, run, logger)
	}
	return pipeline.Fatal("unknown_step", "no handler for step "+step)
}

// ladder builds the fee ladder for one marketplace from configuration.
func (r *Runner) ladder(marketplace string) pricing.Ladder {
	return pricing.Ladder{
		ShippingEuros: r.cfg.Pricing.ShippingEuros,
		VATPercent:    int64(r.cfg.Pricing.VATPercent),
		FeeDrev:       r.cfg.Pricing.FeeDrev,
		FeeMkt:        r.cfg.Pricing.MarketplaceFee(marketplace),
	}
}

// now returns the injectable clock value.
func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// event appends one run event, logging instead of failing the step when
// the event store is unavailable.
func (r *Runner) event(ctx context.Context, runID, level, message string, details map[string]any) {
	if err := r.store.LogEvent(ctx, runID, level, message, details); err != nil {
		r.logger.Warn("event log failed", slog.String("message", message), catsynclog.Error(err))
	}
}

// mergeMetrics folds step metrics into the run-level metrics map used
// by the completion notification.
func (r *Runner) mergeMetrics(ctx context.Context, runID string, metrics map[string]any) {
	if len(metrics) == 0 {
		return
	}
	if err := r.store.MergeRun(ctx, runID, map[string]any{"metrics": metrics}); err != nil {
		r.logger.Warn("metrics merge failed", catsynclog.Error(err))
	}
}

// isNotFound reports whether err is an object-store miss.
func isNotFound(err error) bool {
	var nf *errors.NotFoundError
	return errors.As(err, &nf)
}

// loadProducts reads the unified product table for a run.
func (r *Runner) loadProducts(ctx context.Context, runID, name string) ([]export.Product, bool, error) {
	data, err := r.objects.Get(ctx, outputKey(runID, name))
	if err != nil {
		return nil, false, err
	}
	return readProducts(data)
}

// saveProducts writes the unified product table for a run.
func (r *Runner) saveProducts(ctx context.Context, runID, name string, products []export.Product, priced bool) error {
	var buf bytes.Buffer
	if err := export.WriteProducts(&buf, products, priced); err != nil {
		return err
	}
	return r.objects.Put(ctx, outputKey(runID, name), buf.Bytes())
}

func readProducts(data []byte) ([]export.Product, bool, error) {
	return export.ReadProducts(bytes.NewReader(data))
}
