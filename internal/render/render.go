// Package render drives the external renderer: one subprocess per record.
//
// A render writes to a collision-resistant temp file in the output directory
// and is moved onto the final artifact name only after a clean exit, so a
// final artifact on disk is always complete. Anything else removes the temp
// file on the way out.
//
// The renderer is treated as a single-instance resource. Runner is not safe
// for concurrent Render calls against the same work directory; the batch
// controller serializes them.
package render

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/reportflow/internal/identity"
	"github.com/roach88/reportflow/internal/record"
)

// DefaultTimeout bounds one render subprocess.
const DefaultTimeout = 300 * time.Second

// DefaultCommand is the renderer executable.
const DefaultCommand = "quarto"

// DefaultLibraryEnv is the environment variable that receives the bundled
// library directory.
const DefaultLibraryEnv = "R_LIBS"

// tailLines is the number of trailing output lines kept on the result.
const tailLines = 40

// Status is the outcome of one render.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusTimeout
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusTimeout:
		return "timeout"
	case StatusCancelled:
		return "cancelled"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// Failed reports whether the status counts as a failed record.
// Cancellation is not a failure.
func (s Status) Failed() bool {
	return s == StatusFailure || s == StatusTimeout
}

// Failure reasons.
const (
	ReasonNoOutput  = "no output produced"
	ReasonTimeout   = "timeout"
	ReasonExitCode  = "non-zero exit"
	ReasonStart     = "renderer could not be started"
	ReasonMove      = "could not move output into place"
	ReasonCancelled = "cancelled"
)

// Options configures a Runner.
type Options struct {
	// Command is the renderer executable. Defaults to DefaultCommand.
	Command string
	// PrefixArgs are placed before the "render" verb, for wrapper launchers.
	PrefixArgs []string
	// Template is the path of the template to render.
	Template string
	// OutputDir receives artifacts. It is passed to the renderer as an
	// absolute --output-dir.
	OutputDir string
	// WorkDir is the renderer's working directory. It must be writable: the
	// renderer creates a scratch directory there.
	WorkDir string
	// Timeout bounds each subprocess. Defaults to DefaultTimeout.
	Timeout time.Duration
	// LibraryDir, when it exists, is prepended to LibraryEnv in the
	// subprocess environment.
	LibraryDir string
	LibraryEnv string
	// Debug and Demo are forwarded as debug_mode and diagnostic_mode.
	Debug bool
	Demo  bool

	// Now supplies the artifact date. Defaults to time.Now.
	Now func() time.Time
	// TempName generates bare temp filenames. Defaults to a UUIDv7 name.
	TempName func() string
	// Output, when set, receives every renderer output line.
	Output io.Writer
	Logger *slog.Logger
}

// Job is one render, created per record and discarded afterwards.
type Job struct {
	Key          identity.Key
	Company      string
	Person       string
	TemplateName string
	OutputDir    string
	Debug        bool
	Demo         bool
	TempName     string
	TempPath     string
	FinalPath    string
}

// Result describes a finished render.
type Result struct {
	Status       Status
	Reason       string
	ArtifactPath string
	// Reused is set when the artifact already existed and no subprocess ran.
	Reused   bool
	ExitCode int
	// Tail holds the last renderer output lines.
	Tail     []string
	Duration time.Duration
}

// Runner renders records through the external renderer.
type Runner struct {
	opts   Options
	logger *slog.Logger
}

// NewRunner creates a Runner, filling defaults.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Template == "" {
		return nil, errors.New("render: template is required")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("render: output directory is required")
	}
	if opts.Command == "" {
		opts.Command = DefaultCommand
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.LibraryEnv == "" {
		opts.LibraryEnv = DefaultLibraryEnv
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TempName == nil {
		opts.TempName = func() string {
			return "temp_" + uuid.Must(uuid.NewV7()).String() + ".pdf"
		}
	}
	outDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("render: resolve output directory: %w", err)
	}
	opts.OutputDir = outDir
	tmpl, err := filepath.Abs(opts.Template)
	if err != nil {
		return nil, fmt.Errorf("render: resolve template: %w", err)
	}
	opts.Template = tmpl
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{opts: opts, logger: logger}, nil
}

// TemplateName is the template's base name without extension. It is the
// template segment of artifact filenames.
func (r *Runner) TemplateName() string {
	return TemplateName(r.opts.Template)
}

// TemplateName strips directory and extension from a template path.
func TemplateName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OutputDir returns the absolute artifact directory.
func (r *Runner) OutputDir() string {
	return r.opts.OutputDir
}

// NewJob derives the job for rec: identity, final name and temp name.
func (r *Runner) NewJob(rec record.Record) Job {
	tmpl := r.TemplateName()
	final := identity.ArtifactFilename(r.opts.Now(), tmpl, rec.Company, rec.Person)
	temp := r.opts.TempName()
	return Job{
		Key:          rec.Key(),
		Company:      strings.TrimSpace(rec.Company),
		Person:       strings.TrimSpace(rec.Person),
		TemplateName: tmpl,
		OutputDir:    r.opts.OutputDir,
		Debug:        r.opts.Debug,
		Demo:         r.opts.Demo,
		TempName:     temp,
		TempPath:     filepath.Join(r.opts.OutputDir, temp),
		FinalPath:    filepath.Join(r.opts.OutputDir, final),
	}
}

// Args builds the renderer argument list for job, excluding PrefixArgs.
// The --output value is always a bare filename.
func (r *Runner) Args(job Job) []string {
	return []string{
		"render", r.opts.Template,
		"-P", "company=" + job.Company,
		"-P", "person=" + job.Person,
		"-P", "debug_mode=" + strconv.FormatBool(job.Debug),
		"-P", "diagnostic_mode=" + strconv.FormatBool(job.Demo),
		"--to", "pdf",
		"--output", job.TempName,
		"--output-dir", job.OutputDir,
	}
}

// Render produces the artifact for rec. An existing artifact with the
// expected name short-circuits to success without starting the renderer.
// Render never returns an error: every outcome is encoded in the Result.
func (r *Runner) Render(ctx context.Context, rec record.Record) Result {
	job := r.NewJob(rec)
	log := r.logger.With("key", job.Key.String())

	if _, err := os.Stat(job.FinalPath); err == nil {
		log.Info("artifact exists, skipping render", "path", job.FinalPath)
		return Result{Status: StatusSuccess, ArtifactPath: job.FinalPath, Reused: true}
	}

	if ctx.Err() != nil {
		return Result{Status: StatusCancelled, Reason: ReasonCancelled}
	}

	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return Result{Status: StatusFailure, Reason: fmt.Sprintf("%s: %v", ReasonStart, err)}
	}

	start := time.Now()
	res := r.run(ctx, job, log)
	res.Duration = time.Since(start)

	switch res.Status {
	case StatusSuccess:
		log.Info("render succeeded", "path", res.ArtifactPath, "duration", res.Duration)
	case StatusCancelled:
		log.Info("render cancelled")
	default:
		log.Warn("render failed", "status", res.Status, "reason", res.Reason, "exit_code", res.ExitCode)
	}
	return res
}

func (r *Runner) run(ctx context.Context, job Job, log *slog.Logger) (res Result) {
	moved := false
	defer func() {
		if moved {
			return
		}
		if err := os.Remove(job.TempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("could not remove temp file", "path", job.TempPath, "error", err)
		}
	}()

	args := append(append([]string{}, r.opts.PrefixArgs...), r.Args(job)...)
	cmd := exec.Command(r.opts.Command, args...)
	cmd.Dir = r.opts.WorkDir
	cmd.Env = BuildEnv(os.Environ(), r.opts.LibraryEnv, r.opts.LibraryDir)
	configureProcess(cmd)

	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Status: StatusFailure, Reason: fmt.Sprintf("%s: %v", ReasonStart, err)}
	}
	cmd.Stderr = cmd.Stdout

	log.Debug("starting renderer", "command", r.opts.Command, "args", args, "dir", cmd.Dir)
	if err := cmd.Start(); err != nil {
		return Result{Status: StatusFailure, Reason: fmt.Sprintf("%s: %v", ReasonStart, err)}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	lines := make(chan string)
	go readLines(pipe, lines)

	tail := newTail(tailLines)
	killed := false
	var stopStatus Status

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			tail.add(line)
			log.Debug("renderer", "line", line)
			if r.opts.Output != nil {
				fmt.Fprintln(r.opts.Output, line)
			}
		case <-runCtx.Done():
			killed = true
			stopStatus = StatusTimeout
			if ctx.Err() != nil {
				stopStatus = StatusCancelled
			}
			terminateProcess(cmd)
			// A grandchild outside the group can keep the pipe open. Wait
			// closes the read side once the renderer exits, which ends
			// readLines; drain until then without blocking here.
			go func() {
				for range lines {
				}
			}()
			break loop
		}
	}

	waitErr := cmd.Wait()
	res.Tail = tail.lines()
	res.ExitCode = cmd.ProcessState.ExitCode()

	if killed {
		res.Status = stopStatus
		if stopStatus == StatusTimeout {
			res.Reason = fmt.Sprintf("%s after %s", ReasonTimeout, r.opts.Timeout)
		} else {
			res.Reason = ReasonCancelled
		}
		return res
	}

	if waitErr != nil || res.ExitCode != 0 {
		res.Status = StatusFailure
		res.Reason = fmt.Sprintf("%s (exit code %d)", ReasonExitCode, res.ExitCode)
		return res
	}

	if _, err := os.Stat(job.TempPath); err != nil {
		res.Status = StatusFailure
		res.Reason = ReasonNoOutput
		return res
	}
	if err := os.Rename(job.TempPath, job.FinalPath); err != nil {
		res.Status = StatusFailure
		res.Reason = fmt.Sprintf("%s: %v", ReasonMove, err)
		return res
	}
	moved = true
	res.Status = StatusSuccess
	res.ArtifactPath = job.FinalPath
	return res
}

// readLines forwards r line by line and closes out at EOF.
func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			out <- line
		}
		if err != nil {
			return
		}
	}
}

// BuildEnv returns base with dir prepended to the list variable name.
// Nothing changes when dir is empty or does not exist.
func BuildEnv(base []string, name, dir string) []string {
	env := append([]string{}, base...)
	if name == "" || dir == "" {
		return env
	}
	if _, err := os.Stat(dir); err != nil {
		return env
	}
	prefix := name + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			if existing := strings.TrimPrefix(kv, prefix); existing != "" {
				env[i] = prefix + dir + string(os.PathListSeparator) + existing
			} else {
				env[i] = prefix + dir
			}
			return env
		}
	}
	return append(env, prefix+dir)
}

// tail keeps the last n lines.
type tail struct {
	n   int
	buf []string
}

func newTail(n int) *tail { return &tail{n: n} }

func (t *tail) add(line string) {
	t.buf = append(t.buf, line)
	if len(t.buf) > t.n {
		t.buf = t.buf[len(t.buf)-t.n:]
	}
}

func (t *tail) lines() []string {
	return append([]string(nil), t.buf...)
}
