package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/reportflow/internal/identity"
	"github.com/roach88/reportflow/internal/store"
)

// ImportResult is the output of the import command.
type ImportResult struct {
	Path     string `json:"path"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
}

func (r ImportResult) String() string {
	return fmt.Sprintf("Imported %d recipient(s) into %s (%d skipped: already tracked or incomplete)", r.Imported, r.Path, r.Skipped)
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	var dataPath string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Seed the send-state store from the source dataset",
		Long: `Create a pending send-state entry for every recipient of the source dataset
that is not tracked yet. Rows flagged as already sent are imported as sent.
Existing entries are never overwritten; an empty stored email is filled in.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, dataPath, cmd)
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "source dataset (overrides data.source)")

	return cmd
}

func runImport(opts *RootOptions, dataPath string, cmd *cobra.Command) error {
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}
	recs, err := a.records(dataPath)
	if err != nil {
		return err
	}
	st, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer a.closeStore(st)

	imported, skipped, err := st.ImportFromSource(cmd.Context(), recs)
	if err != nil {
		return a.out.Fail(ExitFailure, ErrCodeState, "import failed", err, nil)
	}
	return a.out.Success(ImportResult{Path: a.cfg.State.Path, Imported: imported, Skipped: skipped})
}

// StatusResult is the output of the status command.
type StatusResult struct {
	Path    string        `json:"path"`
	Backend string        `json:"backend"`
	Stats   store.Stats   `json:"stats"`
	Entries []store.Entry `json:"entries"`
}

func (r StatusResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Send state: %s (%s)\n", r.Path, r.Backend)
	fmt.Fprintf(&b, "  total: %d  sent: %d  pending: %d  failed: %d\n",
		r.Stats.Total, r.Stats.Sent, r.Stats.Pending, r.Stats.Failed)

	keyWidth := 0
	for _, e := range r.Entries {
		keyWidth = max(keyWidth, len(e.Key.String()))
	}
	for _, e := range r.Entries {
		date := ""
		if e.SentDate != nil {
			date = e.SentDate.Local().Format("2006-01-02 15:04")
		}
		email := e.Email
		if email == "" {
			email = "-"
		}
		fmt.Fprintf(&b, "  %-7s  %-16s  %-*s  %s\n", e.Status, date, keyWidth, e.Key, email)
	}
	return b.String()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:           "status",
		Short:         "List send-state entries and statistics",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, filter, cmd)
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "only list entries with this status (sent|pending|failed)")

	return cmd
}

func runStatus(opts *RootOptions, filter string, cmd *cobra.Command) error {
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}

	var want *store.Status
	if filter != "" {
		st, err := store.ParseStatus(filter)
		if err != nil {
			return a.out.Fail(ExitCommandError, ErrCodeGeneric, "invalid --filter", err, nil)
		}
		want = &st
	}

	st, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer a.closeStore(st)

	result := StatusResult{Path: a.cfg.State.Path, Backend: a.cfg.State.Backend, Stats: st.Stats()}
	for _, e := range st.Entries() {
		if want == nil || e.Status == *want {
			result.Entries = append(result.Entries, e)
		}
	}
	return a.out.Success(result)
}

// NewMarkCommand creates the mark command.
func NewMarkCommand(rootOpts *RootOptions) *cobra.Command {
	var company, person string

	cmd := &cobra.Command{
		Use:   "mark <sent|pending|failed>",
		Short: "Set a recipient's send status by hand",
		Long: `Set the send status of a tracked recipient. Marking a recipient pending
makes the next send run deliver their report again.

Example:
  reportflow mark pending --company "Acme Corp" --person "Alice Bennett"`,
		Args:          cobra.ExactArgs(1),
		ValidArgs:     []string{"sent", "pending", "failed"},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMark(rootOpts, args[0], company, person, cmd)
		},
	}

	cmd.Flags().StringVar(&company, "company", "", "company name (required)")
	cmd.Flags().StringVar(&person, "person", "", "person name (required)")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("person")

	return cmd
}

func runMark(opts *RootOptions, statusArg, company, person string, cmd *cobra.Command) error {
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}
	status, err := store.ParseStatus(statusArg)
	if err != nil {
		return a.out.Fail(ExitCommandError, ErrCodeGeneric, "invalid status", err, nil)
	}

	st, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer a.closeStore(st)

	key := identity.NewKey(company, person)
	switch status {
	case store.StatusSent:
		err = st.MarkSent(cmd.Context(), key)
	case store.StatusFailed:
		err = st.MarkFailed(cmd.Context(), key)
	default:
		err = st.MarkPending(cmd.Context(), key)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return a.out.Fail(ExitCommandError, ErrCodeNotFound, "recipient is not tracked: "+key.String(), nil, nil)
	case err != nil:
		return a.out.Fail(ExitFailure, ErrCodeState, "could not update send state", err, nil)
	}

	entry, _ := st.Get(key)
	if a.out.Format == "json" {
		return a.out.Success(entry)
	}
	return a.out.Success(fmt.Sprintf("Marked %s as %s", key, entry.Status))
}
