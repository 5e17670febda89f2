package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
)

type submitReport struct {
	Outcome    string          `json:"outcome"` // sent | queued | cancelled
	TaskID     string          `json:"taskId,omitempty"`
	TempID     string          `json:"tempId,omitempty"`
	StatusCode int             `json:"statusCode,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// NewSubmitCommand writes through the client: straight to the API when
// nothing is pending and it is reachable, into the queue otherwise.
func NewSubmitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <method> <path> [json-body]",
		Short: "Send a write now, or queue it if that is not possible",
		Example: `  fieldsync submit create /visits '{"customerId":"c1","notes":"gate code 1234"}'
  fieldsync submit delete /customers/c1/notes/n4`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			op, err := parseOp(args)
			if err != nil {
				return out.Failure(ExitCommandError, "invalid write", err)
			}

			a, err := openQueue(cmd, opts)
			if err != nil {
				return err
			}
			defer closeApp(a, &err)
			if err := a.buildEngine(cmd.Context()); err != nil {
				return err
			}

			res, err := a.client.Submit(cmd.Context(), op.Method, op.Path, op.Body)
			if err != nil {
				code := ExitCommandError
				if syncErrors.IsRejected(err) {
					code = ExitFailure
				}
				return out.Failure(code, "submit", err)
			}

			rep := submitReport{TaskID: res.Task.ID, TempID: res.TempID, StatusCode: res.StatusCode}
			switch {
			case res.Sent:
				rep.Outcome = "sent"
				rep.TaskID = ""
				if json.Valid(res.Body) {
					rep.Body = res.Body
				}
			case res.Cancelled:
				rep.Outcome = "cancelled"
			default:
				rep.Outcome = "queued"
			}
			return out.Success(rep, func(w io.Writer) error {
				var err error
				switch rep.Outcome {
				case "sent":
					_, err = fmt.Fprintf(w, "Sent %s %s: %d\n", op.Method, op.Path, rep.StatusCode)
				case "cancelled":
					_, err = fmt.Fprintf(w, "Cancelled pending create %s\n", rep.TaskID)
				default:
					_, err = fmt.Fprintf(w, "Queued %s %s as %s\n", op.Method, op.Path, rep.TaskID)
				}
				return err
			})
		},
	}
}
