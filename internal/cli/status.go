package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/fieldsync/mutation"
)

type statusReport struct {
	Indicator string     `json:"indicator"`
	Online    bool       `json:"online"`
	Pending   int        `json:"pending"`
	Oldest    *time.Time `json:"oldest,omitempty"`
	MaxRetry  int        `json:"maxRetry"`
	Store     string     `json:"store"`
	API       string     `json:"api"`
}

// NewStatusCommand prints what the sync indicator would show.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and queue state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := openQueue(cmd, opts)
			if err != nil {
				return err
			}
			defer closeApp(a, &err)
			if err := a.buildEngine(cmd.Context()); err != nil {
				return err
			}

			st := a.engine.Status()
			rep := statusReport{
				Indicator: st.Indicator(),
				Online:    st.Online,
				Pending:   st.Pending,
				Store:     a.cfg.Store.Driver,
				API:       a.remote.BaseURL(),
			}
			if head, ok := a.queue.Head(); ok {
				rep.Oldest = &head.CreatedAt
			}
			for t := range a.queue.List() {
				rep.MaxRetry = max(rep.MaxRetry, t.RetryCount)
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(rep, func(w io.Writer) error {
				return writeStatus(w, rep, a.queue.Snapshot())
			})
		},
	}
}

func writeStatus(w io.Writer, rep statusReport, tasks []mutation.Task) error {
	fmt.Fprintf(w, "Sync:    %s\n", rep.Indicator)
	fmt.Fprintf(w, "Online:  %t\n", rep.Online)
	fmt.Fprintf(w, "API:     %s\n", rep.API)
	fmt.Fprintf(w, "Store:   %s\n", rep.Store)
	_, err := fmt.Fprintf(w, "Pending: %d\n", rep.Pending)
	if err != nil || len(tasks) == 0 {
		return err
	}
	fmt.Fprintln(w)
	return writeTasks(w, tasks, time.Now())
}
