package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/reportflow/internal/batch"
)

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	var dataPath string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Render a report for every eligible record",
		Long: `Render one report per eligible record of the source dataset, in source
order, one renderer process at a time. Reports that already exist for today
are reused. Each new report is checked against its source record; mismatches
are reported as warnings.

Ctrl-C stops the batch after killing the active renderer; the summary then
shows the run as INCOMPLETE and the command exits 1.

Example:
  reportflow generate --data ./cleaned_master.csv`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(rootOpts, dataPath, cmd)
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "source dataset (overrides data.source)")

	return cmd
}

func runGenerate(opts *RootOptions, dataPath string, cmd *cobra.Command) error {
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}
	recs, err := a.records(dataPath)
	if err != nil {
		return err
	}
	ctrl, err := a.controller(false)
	if err != nil {
		return err
	}

	ctx, stop := a.signalContext(cmd.Context())
	defer stop()

	summary, err := ctrl.Run(ctx, batch.Context{
		Records: recs,
		Progress: func(p batch.Progress) {
			a.out.VerboseLog("[%d/%d] %s", p.Processed, p.Total, p.Current)
		},
	})
	if err != nil {
		return a.runError(err)
	}

	if err := a.out.SuccessRun(summary.RunID, summary); err != nil {
		return err
	}
	switch {
	case !summary.Complete():
		return NewExitError(ExitFailure, fmt.Sprintf("%s: batch stopped after %d of %d records", ErrCodeIncomplete, summary.Processed, summary.Total))
	case summary.Failed > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %d render(s) failed", ErrCodeIncomplete, summary.Failed))
	}
	return nil
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	var dataPath, company, person string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the report for one recipient",
		Long: `Render the report for a single record, chosen by company and person,
using the single-render timeout.

Example:
  reportflow render --company "Acme Corp" --person "Alice Bennett"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(rootOpts, dataPath, company, person, cmd)
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "source dataset (overrides data.source)")
	cmd.Flags().StringVar(&company, "company", "", "company name (required)")
	cmd.Flags().StringVar(&person, "person", "", "person name (required)")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("person")

	return cmd
}

func runRender(opts *RootOptions, dataPath, company, person string, cmd *cobra.Command) error {
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}
	recs, err := a.records(dataPath)
	if err != nil {
		return err
	}
	rec, err := a.lookup(recs, company, person)
	if err != nil {
		return err
	}
	ctrl, err := a.controller(true)
	if err != nil {
		return err
	}

	ctx, stop := a.signalContext(cmd.Context())
	defer stop()

	item, err := ctrl.RenderOne(ctx, rec)
	switch {
	case errors.Is(err, batch.ErrIneligible):
		return a.out.Fail(ExitFailure, ErrCodeIneligible, "record is not eligible", errors.New(item.Reason), nil)
	case err != nil:
		return a.runError(err)
	}

	if err := a.out.Success(item); err != nil {
		return err
	}
	switch item.Status {
	case batch.ItemGenerated, batch.ItemReused:
		return nil
	default:
		return NewExitError(ExitFailure, fmt.Sprintf("%s: render %s: %s", ErrCodeIncomplete, item.Status, item.Reason))
	}
}
