// Package batch drives report generation over the source dataset.
//
// Records are rendered strictly one at a time, in source order. A record
// that fails to render is counted and the batch moves on; only a failed
// renderer pre-flight stops a batch, and it does so before any record is
// attempted.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/roach88/reportflow/internal/identity"
	"github.com/roach88/reportflow/internal/oplock"
	"github.com/roach88/reportflow/internal/record"
	"github.com/roach88/reportflow/internal/render"
	"github.com/roach88/reportflow/internal/verify"
)

// ErrBusy is returned when a generation run is already in progress.
var ErrBusy = errors.New("a generation run is already in progress")

// ErrIneligible is returned by RenderOne for a record that fails eligibility.
var ErrIneligible = errors.New("record is not eligible")

// Renderer renders one record. *render.Runner implements it.
type Renderer interface {
	Render(ctx context.Context, rec record.Record) render.Result
}

// Validator checks a rendered artifact. *verify.Validator implements it.
type Validator interface {
	Validate(artifactPath string, rec record.Record) (verify.Report, error)
}

// Preflighter verifies the renderer can run at all. render.Preflight
// implements it.
type Preflighter interface {
	Check(ctx context.Context) error
}

// Options configures a Controller.
type Options struct {
	// Preflight runs before every batch and single render. Nil skips it.
	Preflight Preflighter
	// Validator, when set, checks every successful artifact. Mismatches are
	// warnings only.
	Validator Validator
	// LockPath, when set, names a lock file that makes runs exclusive across
	// processes as well as within one Controller.
	LockPath string
	// NewRunID defaults to a UUIDv7.
	NewRunID func() string
	Logger   *slog.Logger
}

// Progress is published after every record.
type Progress struct {
	Processed int
	Total     int
	Generated int
	Failed    int
	Skipped   int
	Current   identity.Key
}

// Context carries one batch run's inputs.
type Context struct {
	Records []record.Record
	// Progress, when set, receives a snapshot after every record.
	Progress func(Progress)
}

// Controller runs batches, one at a time.
type Controller struct {
	renderer Renderer
	opts     Options
	logger   *slog.Logger
	running  atomic.Bool
}

// New creates a Controller around renderer.
func New(renderer Renderer, opts Options) *Controller {
	if opts.NewRunID == nil {
		opts.NewRunID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{renderer: renderer, opts: opts, logger: logger}
}

// acquire takes the in-process slot and, when configured, the lock file.
func (c *Controller) acquire() (func(), error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	if c.opts.LockPath == "" {
		return func() { c.running.Store(false) }, nil
	}
	unlock, err := oplock.Acquire(c.opts.LockPath)
	if err != nil {
		c.running.Store(false)
		if errors.Is(err, oplock.ErrHeld) {
			c.logger.Warn("another generation run holds the lock", "lock", c.opts.LockPath)
			return nil, ErrBusy
		}
		return nil, err
	}
	return func() {
		unlock()
		c.running.Store(false)
	}, nil
}

// Run renders every eligible record. It returns ErrBusy when another run is
// active and the pre-flight error when the renderer is unavailable; in both
// cases no record was attempted. Per-record outcomes are in the Summary.
func (c *Controller) Run(ctx context.Context, bc Context) (Summary, error) {
	release, err := c.acquire()
	if err != nil {
		return Summary{}, err
	}
	defer release()

	runID := c.opts.NewRunID()
	log := c.logger.With("run_id", runID)
	summary := Summary{RunID: runID, Total: len(bc.Records)}

	if err := c.preflight(ctx, log); err != nil {
		return summary, err
	}

	log.Info("batch started", "records", summary.Total)
	for _, rec := range bc.Records {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}

		item := c.process(ctx, log, rec)
		if item.Status == ItemCancelled {
			summary.Cancelled = true
			break
		}
		summary.add(item)

		if bc.Progress != nil {
			bc.Progress(Progress{
				Processed: summary.Processed,
				Total:     summary.Total,
				Generated: summary.Generated + summary.Reused,
				Failed:    summary.Failed,
				Skipped:   summary.Skipped,
				Current:   item.Key,
			})
		}
	}

	if summary.Complete() {
		log.Info("batch complete",
			"generated", summary.Generated, "reused", summary.Reused,
			"failed", summary.Failed, "skipped", summary.Skipped)
	} else {
		log.Warn("batch stopped early",
			"processed", summary.Processed, "total", summary.Total, "cancelled", summary.Cancelled)
	}
	return summary, nil
}

// RenderOne renders a single record outside a batch. It shares the batch's
// slot, so it is rejected with ErrBusy while a batch runs.
func (c *Controller) RenderOne(ctx context.Context, rec record.Record) (Item, error) {
	release, err := c.acquire()
	if err != nil {
		return Item{}, err
	}
	defer release()

	log := c.logger.With("run_id", c.opts.NewRunID())
	if err := c.preflight(ctx, log); err != nil {
		return Item{}, err
	}
	item := c.process(ctx, log, rec)
	if item.Status == ItemSkipped {
		return item, fmt.Errorf("%w: %s", ErrIneligible, item.Reason)
	}
	return item, nil
}

func (c *Controller) preflight(ctx context.Context, log *slog.Logger) error {
	if c.opts.Preflight == nil {
		return nil
	}
	if err := c.opts.Preflight.Check(ctx); err != nil {
		log.Error("renderer pre-flight failed, nothing rendered", "error", err)
		return err
	}
	return nil
}

// process runs eligibility, render and advisory validation for one record.
func (c *Controller) process(ctx context.Context, log *slog.Logger, rec record.Record) Item {
	item := Item{Row: rec.Row, Key: rec.Key()}
	log = log.With("row", rec.Row, "key", item.Key.String())

	if el := record.Validate(rec); !el.Valid {
		item.Status = ItemSkipped
		item.Reason = el.Reason
		log.Info("skipping record", "reason", el.Reason)
		return item
	}

	res := c.renderer.Render(ctx, rec)
	item.Duration = res.Duration
	switch res.Status {
	case render.StatusSuccess:
		item.Status = ItemGenerated
		if res.Reused {
			item.Status = ItemReused
		}
		item.Artifact = res.ArtifactPath
		c.validate(log, &item, rec)
	case render.StatusCancelled:
		item.Status = ItemCancelled
		item.Reason = res.Reason
	default:
		item.Status = ItemFailed
		item.Reason = res.Reason
		item.Tail = res.Tail
	}
	return item
}

func (c *Controller) validate(log *slog.Logger, item *Item, rec record.Record) {
	if c.opts.Validator == nil {
		return
	}
	report, err := c.opts.Validator.Validate(item.Artifact, rec)
	if err != nil {
		log.Warn("artifact validation unavailable", "path", item.Artifact, "error", err)
		item.Warning = "validation unavailable: " + err.Error()
		return
	}
	item.Validation = &report
	if !report.Success {
		log.Warn("artifact does not match source data", "path", item.Artifact, "detail", report.Message)
		item.Warning = "validation: " + report.Message
	}
}
