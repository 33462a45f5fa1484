package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/reportflow/internal/batch"
	"github.com/roach88/reportflow/internal/config"
	"github.com/roach88/reportflow/internal/distribute"
	"github.com/roach88/reportflow/internal/identity"
	"github.com/roach88/reportflow/internal/mail"
	"github.com/roach88/reportflow/internal/record"
	"github.com/roach88/reportflow/internal/render"
	"github.com/roach88/reportflow/internal/store"
	"github.com/roach88/reportflow/internal/verify"
)

// app is what every command needs: configuration, a logger and an output
// formatter, plus constructors for the components they wire together.
type app struct {
	opts   *RootOptions
	cfg    *config.Config
	logger *slog.Logger
	out    *OutputFormatter
}

func newApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "could not load configuration", err, nil)
	}
	if cfg.Path != "" {
		logger.Debug("configuration loaded", "path", cfg.Path)
	}
	return &app{opts: opts, cfg: cfg, logger: logger, out: out}, nil
}

func (a *app) now() time.Time {
	if a.opts.Now != nil {
		return a.opts.Now()
	}
	return time.Now()
}

// records loads the source dataset from override, or from the configured
// source when override is empty.
func (a *app) records(override string) ([]record.Record, error) {
	path := override
	if path == "" {
		path = a.cfg.Data.Source
	}
	if path == "" {
		return nil, a.out.Fail(ExitCommandError, ErrCodeData, "no source dataset: set data.source or pass --data", nil, nil)
	}
	recs, err := record.Load(path)
	if err != nil {
		return nil, a.out.Fail(ExitCommandError, ErrCodeData, "could not read source dataset", err, nil)
	}
	a.logger.Debug("dataset loaded", "path", path, "records", len(recs))
	return recs, nil
}

// lookup finds the record for company and person.
func (a *app) lookup(recs []record.Record, company, person string) (record.Record, error) {
	key := identity.NewKey(company, person)
	rec, ok := record.NewIndex(recs).Lookup(key)
	if !ok {
		return record.Record{}, a.out.Fail(ExitCommandError, ErrCodeNotFound, "no record for "+key.String(), nil, nil)
	}
	return rec, nil
}

func (a *app) renderOptions(single bool) render.Options {
	rc := a.cfg.Renderer
	timeout := rc.Timeout.D()
	if single {
		timeout = rc.SingleTimeout.D()
	}
	return render.Options{
		Command:    rc.Command,
		PrefixArgs: rc.Args,
		Template:   rc.Template,
		OutputDir:  rc.OutputDir,
		WorkDir:    rc.WorkDir,
		Timeout:    timeout,
		LibraryDir: rc.LibraryDir,
		LibraryEnv: rc.LibraryEnv,
		Debug:      rc.Debug,
		Demo:       rc.Demo,
		Now:        a.now,
		Output:     a.rendererOutput(),
		Logger:     a.logger,
	}
}

// rendererOutput echoes renderer lines to stderr in verbose text mode.
func (a *app) rendererOutput() io.Writer {
	if !a.opts.Verbose || a.opts.Format == "json" {
		return nil
	}
	return &prefixWriter{w: a.out.GetErrWriter(), prefix: "  | "}
}

// prefixWriter prefixes every write; the renderer writes one line per call.
type prefixWriter struct {
	w      io.Writer
	prefix string
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	if _, err := io.WriteString(p.w, p.prefix); err != nil {
		return 0, err
	}
	return p.w.Write(b)
}

func (a *app) preflight(opts render.Options) render.Preflight {
	p := render.PreflightFor(opts)
	p.MinVersion = a.cfg.Renderer.MinVersion
	p.Probe = a.cfg.Renderer.Probe
	p.SetupLog = a.cfg.Renderer.SetupLog
	return p
}

// controller builds a batch controller; single selects the single-record
// timeout.
func (a *app) controller(single bool) (*batch.Controller, error) {
	opts := a.renderOptions(single)
	if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
		return nil, a.out.Fail(ExitCommandError, ErrCodeRender, "could not create renderer work directory", err, nil)
	}
	runner, err := render.NewRunner(opts)
	if err != nil {
		return nil, a.out.Fail(ExitCommandError, ErrCodeRender, "could not set up renderer", err, nil)
	}
	bo := batch.Options{
		Preflight: a.preflight(opts),
		LockPath:  filepath.Join(opts.WorkDir, generateLockName),
		Logger:    a.logger,
	}
	if a.cfg.Validation.Enabled {
		bo.Validator = verify.New(a.cfg.Validation.Tolerance)
	}
	return batch.New(runner, bo), nil
}

// Lock files that keep generation and distribution exclusive across
// processes. The generate lock lives in the renderer work directory, the
// send lock beside the state store it protects.
const generateLockName = ".reportflow-generate.lock"

func (a *app) sendLockPath() string { return a.cfg.State.Path + ".lock" }

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(ctx, a.cfg.State.Backend, a.cfg.State.Path)
	if err != nil {
		return nil, a.out.Fail(ExitCommandError, ErrCodeState, "could not open send-state store", err, nil)
	}
	return st, nil
}

func (a *app) closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		a.logger.Error("error closing send-state store", "error", err)
	}
}

// transports builds the delivery chain: the local mail client first, then
// direct SMTP.
func (a *app) transports() *mail.Chain {
	mc := a.cfg.Mail
	var ts []mail.Transport
	if !mc.Client.Disabled {
		ts = append(ts, &mail.LocalClient{
			Command:    mc.Client.Command,
			PrefixArgs: mc.Client.Args,
			ConfigPath: mc.Client.ConfigPath,
			Priority:   mc.PriorityAccounts,
			Timeout:    mc.Timeout.D(),
		})
	}
	ts = append(ts, &mail.SMTP{
		Host:     mc.SMTP.Host,
		Port:     mc.SMTP.Port,
		From:     mc.SMTP.From,
		Username: mc.SMTP.Username,
		Password: mc.SMTP.Password,
		Timeout:  mc.Timeout.D(),
	})
	return mail.NewChain(a.logger, ts...)
}

func (a *app) template() distribute.Template {
	return distribute.Template{Subject: a.cfg.Mail.Subject, Body: a.cfg.Mail.Body}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM. The
// returned stop function releases the signal handler.
func (a *app) signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, stopping after the current item", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
	}
}

// isBusy reports ErrBusy from either runner.
func isBusy(err error) bool {
	return errors.Is(err, batch.ErrBusy) || errors.Is(err, distribute.ErrBusy)
}
