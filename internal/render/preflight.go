package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// PreflightCode categorizes systemic renderer unavailability.
type PreflightCode string

const (
	// CodeRendererNotFound: the renderer executable is not on PATH.
	CodeRendererNotFound PreflightCode = "RENDERER_NOT_FOUND"

	// CodeTemplateNotFound: the template file is missing.
	CodeTemplateNotFound PreflightCode = "TEMPLATE_NOT_FOUND"

	// CodeRendererVersion: the renderer is older than the configured minimum,
	// or its version could not be determined.
	CodeRendererVersion PreflightCode = "RENDERER_VERSION"

	// CodeDependencyMissing: the dependency probe did not report OK.
	CodeDependencyMissing PreflightCode = "DEPENDENCY_MISSING"
)

// PreflightError reports why no record can be rendered at all.
type PreflightError struct {
	Code    PreflightCode
	Message string
	// Hint tells the operator how to fix it.
	Hint string
}

func (e *PreflightError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Code, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsPreflightError reports whether err wraps a PreflightError.
func IsPreflightError(err error) bool {
	var pe *PreflightError
	return errors.As(err, &pe)
}

// probeOK is the exact output a healthy dependency probe prints.
const probeOK = "OK"

const defaultProbeTimeout = 30 * time.Second

// DefaultRPackages are the R packages the report template loads.
var DefaultRPackages = []string{"knitr", "rmarkdown", "readr", "dplyr", "fmsb"}

// RPackageCheck builds a command that prints OK when every package is
// installed and "MISSING: a, b" otherwise.
func RPackageCheck(packages ...string) []string {
	quoted := make([]string, len(packages))
	for i, p := range packages {
		quoted[i] = strconv.Quote(p)
	}
	script := fmt.Sprintf("pkgs <- c(%s); missing <- pkgs[!pkgs %%in%% rownames(installed.packages())]; "+
		"if (length(missing) == 0) cat('OK') else cat('MISSING:', paste(missing, collapse=', '))",
		strings.Join(quoted, ", "))
	return []string{"Rscript", "-e", script}
}

// Preflight verifies the renderer's runtime dependencies before a batch.
type Preflight struct {
	Command    string
	PrefixArgs []string
	Template   string
	// MinVersion, when set, is compared against "<command> --version".
	MinVersion string
	// Probe, when set, is a command that must print exactly "OK". Any other
	// output is the diagnostic.
	Probe      []string
	LibraryDir string
	LibraryEnv string
	Timeout    time.Duration
	// SetupLog is mentioned in hints when dependencies are missing.
	SetupLog string
}

// PreflightFor builds the pre-flight matching a runner's options.
func PreflightFor(opts Options) Preflight {
	return Preflight{
		Command:    opts.Command,
		PrefixArgs: opts.PrefixArgs,
		Template:   opts.Template,
		LibraryDir: opts.LibraryDir,
		LibraryEnv: opts.LibraryEnv,
	}
}

// Check runs every configured check and returns the first failure as a
// *PreflightError.
func (p Preflight) Check(ctx context.Context) error {
	command := p.Command
	if command == "" {
		command = DefaultCommand
	}
	if _, err := exec.LookPath(command); err != nil {
		return &PreflightError{
			Code:    CodeRendererNotFound,
			Message: fmt.Sprintf("renderer %q not found: %v", command, err),
			Hint:    "install the renderer and make sure it is on PATH",
		}
	}

	if p.Template != "" {
		if _, err := os.Stat(p.Template); err != nil {
			return &PreflightError{
				Code:    CodeTemplateNotFound,
				Message: fmt.Sprintf("template %s: %v", p.Template, err),
				Hint:    "check renderer.template in the configuration",
			}
		}
	}

	if p.MinVersion != "" {
		if err := p.checkVersion(ctx, command); err != nil {
			return err
		}
	}

	if len(p.Probe) > 0 {
		if err := p.runProbe(ctx); err != nil {
			return err
		}
	}
	return nil
}

var versionPattern = regexp.MustCompile(`\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z.-]+)?`)

func (p Preflight) checkVersion(ctx context.Context, command string) error {
	minimum, err := semver.NewVersion(p.MinVersion)
	if err != nil {
		return &PreflightError{
			Code:    CodeRendererVersion,
			Message: fmt.Sprintf("invalid minimum version %q: %v", p.MinVersion, err),
			Hint:    "set renderer.min_version to a semantic version such as 1.6.0",
		}
	}

	args := append(append([]string{}, p.PrefixArgs...), "--version")
	out, err := p.output(ctx, command, args)
	if err != nil {
		return &PreflightError{
			Code:    CodeRendererVersion,
			Message: fmt.Sprintf("%s --version failed: %v", command, err),
			Hint:    "reinstall the renderer",
		}
	}
	raw := versionPattern.FindString(out)
	if raw == "" {
		return &PreflightError{
			Code:    CodeRendererVersion,
			Message: fmt.Sprintf("could not read a version from %q", strings.TrimSpace(out)),
			Hint:    "reinstall the renderer",
		}
	}
	got, err := semver.NewVersion(raw)
	if err != nil {
		return &PreflightError{
			Code:    CodeRendererVersion,
			Message: fmt.Sprintf("unparsable renderer version %q: %v", raw, err),
			Hint:    "reinstall the renderer",
		}
	}
	if got.LessThan(minimum) {
		return &PreflightError{
			Code:    CodeRendererVersion,
			Message: fmt.Sprintf("renderer version %s is older than required %s", got, minimum),
			Hint:    "upgrade the renderer",
		}
	}
	return nil
}

func (p Preflight) runProbe(ctx context.Context) error {
	out, err := p.output(ctx, p.Probe[0], p.Probe[1:])
	out = strings.TrimSpace(out)
	if err == nil && out == probeOK {
		return nil
	}
	msg := out
	if msg == "" && err != nil {
		msg = err.Error()
	}
	hint := "run the system check and install the missing packages"
	if p.SetupLog != "" {
		hint += "; see " + p.SetupLog
	}
	return &PreflightError{
		Code:    CodeDependencyMissing,
		Message: msg,
		Hint:    hint,
	}
}

// output runs a short command with the same library environment a render gets.
func (p Preflight) output(ctx context.Context, name string, args []string) (string, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	libEnv := p.LibraryEnv
	if libEnv == "" {
		libEnv = DefaultLibraryEnv
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = BuildEnv(os.Environ(), libEnv, p.LibraryDir)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("timed out after %s", timeout)
	}
	return buf.String(), err
}
