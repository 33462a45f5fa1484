package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/reportflow/internal/identity"
	"github.com/roach88/reportflow/internal/verify"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var dataPath, company, person string

	cmd := &cobra.Command{
		Use:   "validate <artifact>",
		Short: "Check a rendered report against its source record",
		Long: `Extract the pillar averages and overall score from a rendered report and
compare them with the values recomputed from the source record, within the
configured tolerance.

The recipient is read from the artifact filename unless --company and
--person are given.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], dataPath, company, person, cmd)
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "source dataset (overrides data.source)")
	cmd.Flags().StringVar(&company, "company", "", "company name (default from the filename)")
	cmd.Flags().StringVar(&person, "person", "", "person name (default from the filename)")

	return cmd
}

func runValidate(opts *RootOptions, artifact, dataPath, company, person string, cmd *cobra.Command) error {
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}

	if _, err := os.Stat(artifact); err != nil {
		return a.out.Fail(ExitCommandError, ErrCodeNotFound, "artifact not found", err, nil)
	}
	if company == "" || person == "" {
		parsed, err := identity.ParseArtifactFilename(filepath.Base(artifact))
		if err != nil {
			return a.out.Fail(ExitCommandError, ErrCodeNotFound, "cannot tell the recipient from the filename; pass --company and --person", err, nil)
		}
		company, person = parsed.Key.Company, parsed.Key.Person
	}

	recs, err := a.records(dataPath)
	if err != nil {
		return err
	}
	rec, err := a.lookup(recs, company, person)
	if err != nil {
		return err
	}

	report, err := verify.New(a.cfg.Validation.Tolerance).Validate(artifact, rec)
	if err != nil {
		return a.out.Fail(ExitFailure, ErrCodeMismatch, "could not read artifact", err, nil)
	}
	if err := a.out.Success(report); err != nil {
		return err
	}
	if !report.Success {
		return NewExitError(ExitFailure, ErrCodeMismatch+": "+report.Message)
	}
	return nil
}
