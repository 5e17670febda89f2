package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/fieldsync/mutation"
	"github.com/c0deZ3R0/fieldsync/queue"
)

// NewQueueCommand groups the commands that inspect and edit the persisted
// queue without contacting the API.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the pending write queue",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueAddCommand(rootOpts))
	cmd.AddCommand(newQueueRemoveCommand(rootOpts))
	return cmd
}

func newQueueListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending writes in send order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := openQueue(cmd, opts)
			if err != nil {
				return err
			}
			defer closeApp(a, &err)

			tasks := a.queue.Snapshot()
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(tasks, func(w io.Writer) error {
				return writeTasks(w, tasks, time.Now())
			})
		},
	}
}

func newQueueAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <method> <path> [json-body]",
		Short: "Queue a write for the next pass",
		Long: "Queue a write for the next pass. Method is CREATE, REPLACE, PATCH or DELETE " +
			"(or POST and PUT). Every method except DELETE takes a JSON object body.",
		Example: `  fieldsync queue add create /customers '{"name":"Ash Lane"}'
  fieldsync queue add patch /customers/c1 '{"phone":"555-0101"}'
  fieldsync queue add delete /customers/c1/notes/n4`,
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

			task := a.queue.Enqueue(op)
			if err := a.queue.Flush(cmd.Context()); err != nil {
				return out.Failure(ExitCommandError, "persist queue", err)
			}
			return out.Success(task, func(w io.Writer) error {
				msg := fmt.Sprintf("Queued %s %s as %s", task.Method, task.ResourcePath, task.ID)
				if task.Method == mutation.Create {
					msg += fmt.Sprintf(" (temporary id %s)", task.TempID())
				}
				_, err := fmt.Fprintln(w, msg)
				return err
			})
		},
	}
}

func newQueueRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <task-id>...",
		Short: "Drop pending writes without sending them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := openQueue(cmd, opts)
			if err != nil {
				return err
			}
			defer closeApp(a, &err)

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			n := a.queue.Remove(args...)
			if err := a.queue.Flush(cmd.Context()); err != nil {
				return out.Failure(ExitCommandError, "persist queue", err)
			}
			if n < len(args) {
				return out.Failure(ExitFailure, fmt.Sprintf("removed %d of %d tasks", n, len(args)), nil)
			}
			return out.Success(map[string]int{"removed": n}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Removed %d task(s)\n", n)
				return err
			})
		},
	}
}

func parseOp(args []string) (queue.Op, error) {
	method, err := mutation.ParseMethod(args[0])
	if err != nil {
		return queue.Op{}, err
	}
	var body mutation.Payload
	if len(args) == 3 {
		var fields map[string]any
		if err := json.Unmarshal([]byte(args[2]), &fields); err != nil {
			return queue.Op{}, fmt.Errorf("body must be a JSON object: %w", err)
		}
		body = mutation.NewDocument(fields)
	}
	path, err := mutation.Validate(method, args[1], body)
	if err != nil {
		return queue.Op{}, err
	}
	return queue.Op{Method: method, Path: path, Body: body}, nil
}

func writeTasks(w io.Writer, tasks []mutation.Task, now time.Time) error {
	if len(tasks) == 0 {
		_, err := fmt.Fprintln(w, "Queue is empty")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMETHOD\tPATH\tAGE\tRETRIES")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			t.ID, t.Method, t.ResourcePath, t.Age(now).Truncate(time.Second), t.RetryCount)
	}
	return tw.Flush()
}

// closeApp closes a and reports its error unless the command already failed.
func closeApp(a *app, err *error) {
	if cerr := a.Close(); cerr != nil && *err == nil {
		*err = WrapExitError(ExitCommandError, "close", cerr)
	}
}
