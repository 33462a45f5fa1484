package render

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reportflow/internal/record"
)

// TestHelperRenderer is not a real test. It stands in for the renderer when
// the test binary is re-executed with "-- helper <mode> <renderer args...>".
func TestHelperRenderer(t *testing.T) {
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 3 || args[1] != "helper" {
		return
	}
	mode, rest := args[2], args[3:]
	os.Exit(helperMain(mode, rest))
}

func helperMain(mode string, args []string) int {
	flag := func(name string) string {
		for i := 0; i+1 < len(args); i++ {
			if args[i] == name {
				return args[i+1]
			}
		}
		return ""
	}
	output := filepath.Join(flag("--output-dir"), flag("--output"))

	switch mode {
	case "success":
		fmt.Println("processing file: template.qmd")
		fmt.Fprintln(os.Stderr, "output created:", output)
		if err := os.WriteFile(output, []byte("%PDF-1.4\n"), 0o644); err != nil {
			return 10
		}
		return 0
	case "nooutput":
		fmt.Println("finished")
		return 0
	case "fail":
		_ = os.WriteFile(output, []byte("partial"), 0o644)
		fmt.Fprintln(os.Stderr, "error: object 'up__r' not found")
		return 3
	case "sleep":
		_ = os.WriteFile(output, []byte("partial"), 0o644)
		time.Sleep(30 * time.Second)
		return 0
	case "detach":
		// The child leaves the process group and inherits stdout.
		child := exec.Command(os.Args[0], "-test.run=^TestHelperRenderer$", "--", "helper", "hold")
		child.Stdout = os.Stdout
		detach(child)
		if err := child.Start(); err != nil {
			return 11
		}
		fmt.Println("started engine", child.Process.Pid)
		time.Sleep(30 * time.Second)
		return 0
	case "hold":
		time.Sleep(10 * time.Second)
		return 0
	case "version":
		fmt.Println("1.4.550")
		return 0
	case "probe-ok":
		fmt.Println("OK")
		return 0
	case "probe-missing":
		fmt.Println("missing: ggplot2, fmsb")
		return 1
	}
	return 99
}

func helperArgs(mode string) []string {
	return []string{"-test.run=^TestHelperRenderer$", "--", "helper", mode}
}

var fixedDate = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func newTestRunner(t *testing.T, mode string, mutate ...func(*Options)) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "ResilienceScanReport.qmd")
	require.NoError(t, os.WriteFile(tmpl, []byte("---\ntitle: report\n---\n"), 0o644))
	outDir := filepath.Join(dir, "reports")

	n := 0
	opts := Options{
		Command:    os.Args[0],
		PrefixArgs: helperArgs(mode),
		Template:   tmpl,
		OutputDir:  outDir,
		WorkDir:    dir,
		Timeout:    20 * time.Second,
		Now:        func() time.Time { return fixedDate },
		TempName: func() string {
			n++
			return fmt.Sprintf("temp_%d.pdf", n)
		},
	}
	for _, m := range mutate {
		m(&opts)
	}
	r, err := NewRunner(opts)
	require.NoError(t, err)
	return r, outDir
}

func testRecord() record.Record {
	return record.Record{Row: 1, Company: "Acme Corp", Person: "Alice Bennett", Email: "alice@acme.test"}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

const wantArtifact = "20261018 ResilienceScanReport (Acme Corp - Alice Bennett).pdf"

func TestNewRunnerRequiresTemplateAndOutput(t *testing.T) {
	_, err := NewRunner(Options{OutputDir: "out"})
	assert.Error(t, err)

	_, err = NewRunner(Options{Template: "t.qmd"})
	assert.Error(t, err)
}

func TestArgs(t *testing.T) {
	r, outDir := newTestRunner(t, "success", func(o *Options) { o.Debug = true })
	job := r.NewJob(record.Record{Company: "Org/Division", Person: "Bob"})

	args := r.Args(job)
	assert.Equal(t, "render", args[0])
	assert.Equal(t, []string{
		"-P", "company=Org/Division",
		"-P", "person=Bob",
		"-P", "debug_mode=true",
		"-P", "diagnostic_mode=false",
		"--to", "pdf",
		"--output", "temp_1.pdf",
		"--output-dir", outDir,
	}, args[2:])

	assert.True(t, filepath.IsAbs(args[1]))
	assert.NotContains(t, job.TempName, string(filepath.Separator))
	assert.Equal(t, "20261018 ResilienceScanReport (Org-Division - Bob).pdf", filepath.Base(job.FinalPath))
}

func TestTemplateName(t *testing.T) {
	assert.Equal(t, "ResilienceScanReport", TemplateName("/x/y/ResilienceScanReport.qmd"))
	assert.Equal(t, "report", TemplateName("report"))
}

func TestRenderSuccess(t *testing.T) {
	var out strings.Builder
	r, outDir := newTestRunner(t, "success", func(o *Options) { o.Output = &out })

	res := r.Render(context.Background(), testRecord())

	require.Equal(t, StatusSuccess, res.Status, res.Reason)
	assert.False(t, res.Reused)
	assert.Equal(t, filepath.Join(outDir, wantArtifact), res.ArtifactPath)
	assert.Equal(t, []string{wantArtifact}, listDir(t, outDir))
	assert.Contains(t, out.String(), "processing file")
	assert.Contains(t, out.String(), "output created")
}

func TestRenderReusesExistingArtifact(t *testing.T) {
	// The helper would fail if it ran.
	r, outDir := newTestRunner(t, "fail")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	existing := filepath.Join(outDir, wantArtifact)
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

	res := r.Render(context.Background(), testRecord())

	assert.Equal(t, StatusSuccess, res.Status)
	assert.True(t, res.Reused)
	assert.Equal(t, existing, res.ArtifactPath)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestRenderCleanExitWithoutOutput(t *testing.T) {
	r, outDir := newTestRunner(t, "nooutput")

	res := r.Render(context.Background(), testRecord())

	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, ReasonNoOutput, res.Reason)
	assert.Equal(t, 0, res.ExitCode)
	assert.Empty(t, listDir(t, outDir))
}

func TestRenderNonZeroExitRemovesTemp(t *testing.T) {
	r, outDir := newTestRunner(t, "fail")

	res := r.Render(context.Background(), testRecord())

	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Reason, ReasonExitCode)
	assert.Contains(t, res.Tail, "error: object 'up__r' not found")
	assert.Empty(t, listDir(t, outDir), "temp file must not survive a failed render")
}

func TestRenderTimeout(t *testing.T) {
	r, outDir := newTestRunner(t, "sleep", func(o *Options) { o.Timeout = 300 * time.Millisecond })

	start := time.Now()
	res := r.Render(context.Background(), testRecord())

	assert.Equal(t, StatusTimeout, res.Status)
	assert.True(t, res.Status.Failed())
	assert.Contains(t, res.Reason, ReasonTimeout)
	assert.Less(t, time.Since(start), 20*time.Second)
	assert.Empty(t, listDir(t, outDir))
}

func TestRenderCancelled(t *testing.T) {
	r, outDir := newTestRunner(t, "sleep")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)
	res := r.Render(ctx, testRecord())

	assert.Equal(t, StatusCancelled, res.Status)
	assert.False(t, res.Status.Failed())
	assert.Empty(t, listDir(t, outDir))
}

func TestRenderCancelledWithDetachedEngine(t *testing.T) {
	r, outDir := newTestRunner(t, "detach")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(500*time.Millisecond, cancel)
	start := time.Now()
	res := r.Render(ctx, testRecord())

	assert.Equal(t, StatusCancelled, res.Status)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Empty(t, listDir(t, outDir))
}

func TestRenderAlreadyCancelled(t *testing.T) {
	r, outDir := newTestRunner(t, "success")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Render(ctx, testRecord())

	assert.Equal(t, StatusCancelled, res.Status)
	assert.Empty(t, listDir(t, outDir))
}

func TestRenderStartFailure(t *testing.T) {
	r, _ := newTestRunner(t, "success", func(o *Options) {
		o.Command = filepath.Join(t.TempDir(), "missing-renderer")
		o.PrefixArgs = nil
	})

	res := r.Render(context.Background(), testRecord())

	assert.Equal(t, StatusFailure, res.Status)
	assert.Contains(t, res.Reason, ReasonStart)
}

func TestBuildEnv(t *testing.T) {
	lib := t.TempDir()
	sep := string(os.PathListSeparator)

	t.Run("prepends to existing", func(t *testing.T) {
		env := BuildEnv([]string{"HOME=/h", "R_LIBS=/usr/lib/R"}, "R_LIBS", lib)
		assert.Equal(t, []string{"HOME=/h", "R_LIBS=" + lib + sep + "/usr/lib/R"}, env)
	})

	t.Run("adds when absent", func(t *testing.T) {
		env := BuildEnv([]string{"HOME=/h"}, "R_LIBS", lib)
		assert.Equal(t, []string{"HOME=/h", "R_LIBS=" + lib}, env)
	})

	t.Run("missing dir leaves env alone", func(t *testing.T) {
		base := []string{"HOME=/h"}
		env := BuildEnv(base, "R_LIBS", filepath.Join(lib, "nope"))
		assert.Equal(t, base, env)
	})
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "timeout", StatusTimeout.String())
	assert.Equal(t, "status(9)", Status(9).String())
}

func TestPreflight(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "report.qmd")
	require.NoError(t, os.WriteFile(tmpl, []byte("x"), 0o644))

	base := Preflight{Command: os.Args[0], Template: tmpl}

	code := func(err error) PreflightCode {
		t.Helper()
		require.Error(t, err)
		pe, ok := err.(*PreflightError)
		require.True(t, ok, "expected *PreflightError, got %T", err)
		assert.NotEmpty(t, pe.Hint)
		return pe.Code
	}

	t.Run("ok", func(t *testing.T) {
		assert.NoError(t, base.Check(context.Background()))
	})

	t.Run("renderer missing", func(t *testing.T) {
		p := base
		p.Command = "reportflow-no-such-renderer"
		assert.Equal(t, CodeRendererNotFound, code(p.Check(context.Background())))
	})

	t.Run("template missing", func(t *testing.T) {
		p := base
		p.Template = filepath.Join(dir, "gone.qmd")
		assert.Equal(t, CodeTemplateNotFound, code(p.Check(context.Background())))
	})

	t.Run("version satisfied", func(t *testing.T) {
		p := base
		p.PrefixArgs = helperArgs("version")
		p.MinVersion = "1.3.0"
		assert.NoError(t, p.Check(context.Background()))
	})

	t.Run("version too old", func(t *testing.T) {
		p := base
		p.PrefixArgs = helperArgs("version")
		p.MinVersion = "1.5.0"
		err := p.Check(context.Background())
		assert.Equal(t, CodeRendererVersion, code(err))
		assert.Contains(t, err.Error(), "1.4.550")
	})

	t.Run("probe ok", func(t *testing.T) {
		p := base
		p.Probe = append([]string{os.Args[0]}, helperArgs("probe-ok")...)
		assert.NoError(t, p.Check(context.Background()))
	})

	t.Run("probe reports missing packages", func(t *testing.T) {
		p := base
		p.Probe = append([]string{os.Args[0]}, helperArgs("probe-missing")...)
		p.SetupLog = "/var/log/reportflow-setup.log"
		err := p.Check(context.Background())
		assert.Equal(t, CodeDependencyMissing, code(err))
		assert.Contains(t, err.Error(), "ggplot2")
		assert.Contains(t, err.Error(), "reportflow-setup.log")
		assert.True(t, IsPreflightError(fmt.Errorf("wrapped: %w", err)))
	})
}

func TestRPackageCheck(t *testing.T) {
	check := RPackageCheck("readr", "fmsb")
	require.Len(t, check, 3)
	assert.Equal(t, []string{"Rscript", "-e"}, check[:2])
	assert.Contains(t, check[2], `pkgs <- c("readr", "fmsb");`)
	assert.Contains(t, check[2], "%in% rownames(installed.packages())")
	assert.Contains(t, check[2], "cat('OK')")
}
