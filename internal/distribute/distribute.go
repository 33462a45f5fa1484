// Package distribute delivers rendered artifacts to their recipients.
//
// A run enumerates the artifacts directory, maps each artifact back to its
// recipient through the identity encoded in its filename, and sends every
// recipient the state store does not already record as sent. A failure for
// one recipient is recorded and the run moves on. In test mode every message
// goes to a single test address and the state store is left untouched.
package distribute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"

	"github.com/roach88/reportflow/internal/identity"
	"github.com/roach88/reportflow/internal/mail"
	"github.com/roach88/reportflow/internal/oplock"
	"github.com/roach88/reportflow/internal/record"
	"github.com/roach88/reportflow/internal/store"
)

// ErrBusy is returned when a distribution run is already in progress.
var ErrBusy = errors.New("a distribution run is already in progress")

// RefusalCode names why a run refused to start.
type RefusalCode string

const (
	CodeNoTransport        RefusalCode = "NO_TRANSPORT"
	CodeNoArtifacts        RefusalCode = "NO_ARTIFACTS"
	CodeNoPending          RefusalCode = "NO_PENDING"
	CodeInvalidTestAddress RefusalCode = "INVALID_TEST_ADDRESS"
)

// RefusalError is a pre-flight refusal. Nothing was sent.
type RefusalError struct {
	Code    RefusalCode
	Message string
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Pre-send failure reasons.
const (
	ReasonNoEmail          = "no email on file"
	ReasonInvalidRecipient = "invalid recipient address"
)

// Sender delivers a message and reports the transport that carried it.
// *mail.Chain is the production implementation.
type Sender interface {
	Check() error
	Send(ctx context.Context, msg mail.Message) (string, error)
}

// Progress is published after every delivery attempt.
type Progress struct {
	Processed int
	Total     int
	Sent      int
	Failed    int
	Current   identity.Key
}

// Context carries everything one run needs.
type Context struct {
	// ArtifactsDir is opened with the host filesystem when FS is nil.
	ArtifactsDir string
	FS           billy.Filesystem
	Records      []record.Record
	Store        *store.Store
	Sender       Sender
	Template     Template
	TestMode     bool
	TestAddress  string
	// Progress, when set, receives a snapshot after every attempt.
	Progress func(Progress)
}

// Options configures a Runner.
type Options struct {
	// Now supplies the {date} placeholder. Defaults to time.Now.
	Now func() time.Time
	// NewRunID defaults to a UUIDv7.
	NewRunID func() string
	// LockPath, when set, names a lock file that makes runs exclusive across
	// processes as well as within one Runner.
	LockPath string
	Logger   *slog.Logger
}

// Runner performs distribution runs, one at a time.
type Runner struct {
	opts    Options
	logger  *slog.Logger
	running atomic.Bool
}

// NewRunner creates a Runner, filling defaults.
func NewRunner(opts Options) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRunID == nil {
		opts.NewRunID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{opts: opts, logger: logger}
}

// candidate is an artifact awaiting delivery.
type candidate struct {
	artifact identity.Artifact
	record   record.Record
	found    bool
}

// Run delivers every pending artifact. It returns ErrBusy when another run is
// active and a *RefusalError when pre-flight refuses to start. Per-recipient
// failures never produce an error: they are counted in the Summary.
func (r *Runner) Run(ctx context.Context, dc Context) (Summary, error) {
	release, err := r.acquire()
	if err != nil {
		return Summary{}, err
	}
	defer release()

	runID := r.opts.NewRunID()
	log := r.logger.With("run_id", runID)
	summary := Summary{RunID: runID, TestMode: dc.TestMode}

	// Another process may have sent while this store was open.
	if dc.Store != nil && r.opts.LockPath != "" {
		if err := dc.Store.Load(ctx); err != nil {
			return summary, fmt.Errorf("reload send-state store: %w", err)
		}
	}

	if dc.Sender == nil {
		return summary, &RefusalError{Code: CodeNoTransport, Message: "no mail transport is configured"}
	}
	if err := dc.Sender.Check(); err != nil {
		return summary, &RefusalError{Code: CodeNoTransport, Message: err.Error()}
	}

	fs := dc.FS
	if fs == nil {
		fs = osfs.New(dc.ArtifactsDir)
	}
	scan, err := scanArtifacts(fs)
	if err != nil {
		return summary, err
	}
	summary.Warnings = scan.Warnings
	for _, w := range scan.Warnings {
		log.Warn("unparsable artifact", "detail", w)
	}
	if len(scan.Artifacts) == 0 {
		return summary, &RefusalError{Code: CodeNoArtifacts, Message: fmt.Sprintf("no artifacts found in %s", fs.Root())}
	}

	index := record.NewIndex(dc.Records)
	var pending []candidate
	for _, a := range scan.Artifacts {
		rec, found := index.Lookup(a.Key)
		if r.alreadySent(dc.Store, a.Key, rec, found) {
			summary.Skipped++
			log.Debug("already sent, skipping", "key", a.Key.String())
			continue
		}
		pending = append(pending, candidate{artifact: a, record: rec, found: found})
	}
	if len(pending) == 0 {
		return summary, &RefusalError{Code: CodeNoPending, Message: "every recipient has already been sent their report"}
	}

	if dc.TestMode && !mail.PlausibleAddress(dc.TestAddress) {
		return summary, &RefusalError{
			Code:    CodeInvalidTestAddress,
			Message: fmt.Sprintf("test address %q is not a valid email address", dc.TestAddress),
		}
	}

	summary.Total = len(pending)
	mode := "live"
	if dc.TestMode {
		mode = "test"
	}
	log.Info("distribution started", "pending", summary.Total, "mode", mode)

	for _, c := range pending {
		if ctx.Err() != nil {
			summary.Cancelled = true
			log.Info("distribution cancelled", "processed", summary.Processed, "total", summary.Total)
			break
		}

		outcome := r.deliver(ctx, log, dc, fs, c)
		summary.add(outcome)

		if dc.Progress != nil {
			dc.Progress(Progress{
				Processed: summary.Processed,
				Total:     summary.Total,
				Sent:      summary.Sent,
				Failed:    summary.Failed,
				Current:   c.artifact.Key,
			})
		}
	}

	log.Info("distribution finished",
		"sent", summary.Sent, "failed", summary.Failed,
		"processed", summary.Processed, "total", summary.Total)
	return summary, nil
}

// acquire takes the in-process slot and, when configured, the lock file.
func (r *Runner) acquire() (func(), error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	if r.opts.LockPath == "" {
		return func() { r.running.Store(false) }, nil
	}
	unlock, err := oplock.Acquire(r.opts.LockPath)
	if err != nil {
		r.running.Store(false)
		if errors.Is(err, oplock.ErrHeld) {
			r.logger.Warn("another distribution run holds the lock", "lock", r.opts.LockPath)
			return nil, ErrBusy
		}
		return nil, err
	}
	return func() {
		unlock()
		r.running.Store(false)
	}, nil
}

// alreadySent reports whether the store or the source's external flag marks
// the recipient as delivered.
func (r *Runner) alreadySent(st *store.Store, key identity.Key, rec record.Record, found bool) bool {
	if found && rec.ReportSent {
		return true
	}
	if st == nil {
		return false
	}
	e, ok := st.Get(key)
	return ok && e.Status == store.StatusSent
}

func (r *Runner) deliver(ctx context.Context, log *slog.Logger, dc Context, fs billy.Filesystem, c candidate) Outcome {
	key := c.artifact.Key
	company, person := key.Company, key.Person
	if c.found {
		company, person = strings.TrimSpace(c.record.Company), strings.TrimSpace(c.record.Person)
	}
	email := r.emailFor(dc.Store, key, c)

	out := Outcome{Key: key, Artifact: c.artifact.Filename, Email: email}
	log = log.With("key", key.String())

	fail := func(reason string) Outcome {
		out.Status = store.StatusFailed
		out.Error = reason
		log.Warn("delivery failed", "reason", reason)
		if !dc.TestMode {
			r.record(ctx, log, dc.Store, key, company, person, email, store.StatusFailed)
		}
		return out
	}

	if email == "" {
		return fail(ReasonNoEmail)
	}

	date := r.opts.Now()
	subject, body := dc.Template.Expand(company, person, date)
	recipient := email
	if dc.TestMode {
		recipient = strings.TrimSpace(dc.TestAddress)
		body = fmt.Sprintf("[TEST MODE]\nOriginal recipient: %s\n\n%s", email, body)
	}
	out.Recipient = recipient
	if !mail.PlausibleAddress(recipient) {
		return fail(fmt.Sprintf("%s: %q", ReasonInvalidRecipient, recipient))
	}

	transport, err := dc.Sender.Send(ctx, mail.Message{
		To:         recipient,
		Subject:    subject,
		Body:       body,
		Attachment: c.artifact.Filename,
		FS:         fs,
	})
	if err != nil {
		return fail(err.Error())
	}

	out.Status = store.StatusSent
	out.Transport = transport
	log.Info("report sent", "to", recipient, "transport", transport, "test_mode", dc.TestMode)
	if !dc.TestMode {
		r.record(ctx, log, dc.Store, key, company, person, email, store.StatusSent)
	}
	return out
}

// emailFor prefers the source record's address and falls back to the one
// kept in the state store. The "NO EMAIL" placeholder counts as missing.
func (r *Runner) emailFor(st *store.Store, key identity.Key, c candidate) string {
	email := ""
	if c.found {
		email = strings.TrimSpace(c.record.Email)
	}
	if email == "" && st != nil {
		if e, ok := st.Get(key); ok {
			email = strings.TrimSpace(e.Email)
		}
	}
	if strings.EqualFold(email, "NO EMAIL") {
		return ""
	}
	return email
}

// record writes the outcome to the state store. Store errors are logged: the
// delivery itself already happened.
func (r *Runner) record(ctx context.Context, log *slog.Logger, st *store.Store, key identity.Key, company, person, email string, status store.Status) {
	if st == nil {
		return
	}
	// A delivery that completed is recorded even when the run is being
	// cancelled.
	ctx = context.WithoutCancel(ctx)
	if _, err := st.Upsert(ctx, key, store.Fields{
		Company: company,
		Person:  person,
		Email:   email,
		Status:  &status,
	}); err != nil {
		log.Error("could not update state store", "status", status, "error", err)
	}
}
