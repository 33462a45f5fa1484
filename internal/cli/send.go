package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/reportflow/internal/distribute"
	"github.com/roach88/reportflow/internal/record"
)

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	Data        string
	TestMode    bool
	TestAddress string
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Email every report not sent yet",
		Long: `Match every report in the output directory to its recipient and email it
through the local mail client, falling back to direct SMTP. Recipients the
send-state store records as sent are skipped, so re-running never sends a
report twice.

In test mode every message goes to the test address and the send-state
store is left untouched.

Example:
  reportflow send
  reportflow send --test-mode --test-address qa@example.com`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Data, "data", "", "source dataset (overrides data.source)")
	cmd.Flags().BoolVar(&opts.TestMode, "test-mode", false, "send everything to the test address (overrides mail.test_mode)")
	cmd.Flags().StringVar(&opts.TestAddress, "test-address", "", "test recipient (overrides mail.test_address)")

	return cmd
}

func runSend(opts *SendOptions, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	var recs []record.Record
	if opts.Data != "" || a.cfg.Data.Source != "" {
		if recs, err = a.records(opts.Data); err != nil {
			return err
		}
	} else {
		a.logger.Warn("no source dataset configured; using addresses from the send-state store")
	}

	testMode := a.cfg.Mail.TestMode
	if cmd.Flags().Changed("test-mode") {
		testMode = opts.TestMode
	}
	testAddress := a.cfg.Mail.TestAddress
	if opts.TestAddress != "" {
		testAddress = opts.TestAddress
	}

	st, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer a.closeStore(st)

	ctx, stop := a.signalContext(cmd.Context())
	defer stop()

	runner := distribute.NewRunner(distribute.Options{Now: a.now, LockPath: a.sendLockPath(), Logger: a.logger})
	summary, err := runner.Run(ctx, distribute.Context{
		ArtifactsDir: a.cfg.Renderer.OutputDir,
		Records:      recs,
		Store:        st,
		Sender:       a.transports(),
		Template:     a.template(),
		TestMode:     testMode,
		TestAddress:  testAddress,
		Progress: func(p distribute.Progress) {
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
		return NewExitError(ExitFailure, fmt.Sprintf("%s: distribution stopped after %d of %d recipients", ErrCodeIncomplete, summary.Processed, summary.Total))
	case summary.Failed > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %d delivery(ies) failed", ErrCodeIncomplete, summary.Failed))
	}
	return nil
}
