package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/reportflow/internal/render"
	"github.com/roach88/reportflow/internal/store"
)

// CheckItem is one line of the system check.
type CheckItem struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
	Hint   string `json:"hint,omitempty"`
}

// CheckResult is the output of the check command.
type CheckResult struct {
	Config     string      `json:"config"`
	Renderer   CheckItem   `json:"renderer"`
	State      CheckItem   `json:"state"`
	Transports []CheckItem `json:"transports"`
}

// Ready reports whether generation and distribution can both run.
func (r CheckResult) Ready() bool {
	if !r.Renderer.OK || !r.State.OK {
		return false
	}
	for _, t := range r.Transports {
		if t.OK {
			return true
		}
	}
	return false
}

func (r CheckResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Configuration: %s\n", r.Config)
	line := func(kind string, it CheckItem) {
		mark := "[OK]  "
		if !it.OK {
			mark = "[FAIL]"
		}
		fmt.Fprintf(&b, "  %s %s %s", mark, kind, it.Name)
		if it.Detail != "" {
			fmt.Fprintf(&b, ": %s", it.Detail)
		}
		b.WriteString("\n")
		if it.Hint != "" {
			fmt.Fprintf(&b, "         hint: %s\n", it.Hint)
		}
	}
	line("renderer", r.Renderer)
	line("state", r.State)
	for _, t := range r.Transports {
		line("transport", t)
	}
	return b.String()
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the renderer, send-state store and mail transports",
		Long: `Run the renderer pre-flight (binary, template, version, dependency probe),
open the send-state store and report which mail transports are configured.
Nothing is rendered or sent.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, cmd)
		},
	}
}

func runCheck(opts *RootOptions, cmd *cobra.Command) error {
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	result := CheckResult{Config: a.cfg.Path}
	if result.Config == "" {
		result.Config = "built-in defaults"
	}

	ropts := a.renderOptions(false)
	result.Renderer = CheckItem{Name: ropts.Command, OK: true, Detail: ropts.Template}
	if err := a.preflight(ropts).Check(ctx); err != nil {
		result.Renderer.OK = false
		result.Renderer.Detail = err.Error()
		var pfErr *render.PreflightError
		if errors.As(err, &pfErr) {
			result.Renderer.Code = string(pfErr.Code)
			result.Renderer.Hint = pfErr.Hint
		}
	}

	result.State = CheckItem{Name: a.cfg.State.Backend, OK: true}
	if st, err := store.Open(ctx, a.cfg.State.Backend, a.cfg.State.Path); err != nil {
		result.State.OK = false
		result.State.Detail = err.Error()
	} else {
		stats := st.Stats()
		result.State.Detail = fmt.Sprintf("%s (%d entries, %d sent)", a.cfg.State.Path, stats.Total, stats.Sent)
		a.closeStore(st)
	}

	for _, t := range a.transports().All() {
		item := CheckItem{Name: t.Name(), OK: true}
		if err := t.Check(); err != nil {
			item.OK = false
			item.Detail = err.Error()
		}
		result.Transports = append(result.Transports, item)
	}

	if !result.Ready() {
		if a.out.Format != "json" {
			_ = a.out.Success(result)
		}
		return a.out.Fail(ExitFailure, ErrCodeGeneric, "system check failed", nil, result)
	}
	return a.out.Success(result)
}
