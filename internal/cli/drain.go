package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/fieldsync/logging"
	"github.com/c0deZ3R0/fieldsync/synckit"
)

type drainReport struct {
	Reason    synckit.Reason `json:"reason"`
	Sent      int            `json:"sent"`
	Rejected  int            `json:"rejected"`
	Remaining int            `json:"remaining"`
	Skipped   bool           `json:"skipped,omitempty"`
	Aborted   bool           `json:"aborted,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  string         `json:"duration"`
}

// NewDrainCommand runs one pass over the queue and exits.
func NewDrainCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Send pending writes now",
		Long: "Send pending writes in order until the queue is empty or the pass aborts. " +
			"Exits 1 when writes are left queued.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := openQueue(cmd, opts)
			if err != nil {
				return err
			}
			defer closeApp(a, &err)
			if err := a.buildEngine(cmd.Context()); err != nil {
				return err
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			var res *synckit.DrainResult
			err = (&logging.Logger{Logger: a.logger}).LogOperation(cmd.Context(), "drain", "cli", func() error {
				var derr error
				res, derr = a.engine.Drain(cmd.Context())
				return derr
			})
			if err != nil {
				return out.Failure(ExitCommandError, "drain", err)
			}
			rep := newDrainReport(res, a.queue.Len())
			if perr := out.Success(rep, func(w io.Writer) error { return writeDrainReport(w, rep) }); perr != nil {
				return perr
			}
			if rep.Remaining > 0 {
				return WrapExitError(ExitFailure, fmt.Sprintf("%d write(s) still queued", rep.Remaining), res.Err)
			}
			return nil
		},
	}
}

func newDrainReport(res *synckit.DrainResult, remaining int) drainReport {
	rep := drainReport{
		Reason:    res.Reason,
		Sent:      res.Sent,
		Rejected:  res.Rejected,
		Remaining: remaining,
		Skipped:   res.Skipped,
		Aborted:   res.Aborted,
		Duration:  res.Duration.Round(time.Millisecond).String(),
	}
	if res.Err != nil {
		rep.Error = res.Err.Error()
	}
	return rep
}

func writeDrainReport(w io.Writer, rep drainReport) error {
	switch {
	case rep.Skipped:
		_, err := fmt.Fprintf(w, "Skipped: no credential available, %d write(s) queued\n", rep.Remaining)
		return err
	case rep.Aborted:
		_, err := fmt.Fprintf(w, "Aborted after %d sent, %d rejected: %s (%d queued)\n",
			rep.Sent, rep.Rejected, rep.Error, rep.Remaining)
		return err
	}
	_, err := fmt.Fprintf(w, "Sent %d, rejected %d in %s\n", rep.Sent, rep.Rejected, rep.Duration)
	return err
}
