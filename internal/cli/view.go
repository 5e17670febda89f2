package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/fieldsync/merge"
	"github.com/c0deZ3R0/fieldsync/mutation"
	"github.com/c0deZ3R0/fieldsync/resource"
	"github.com/c0deZ3R0/fieldsync/view"
)

type ViewOptions struct {
	*RootOptions
	Owner string
}

// NewViewCommand prints a collection as the app would render it: the
// server copy with pending writes applied on top.
func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ViewOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "view <collection>",
		Short: "Show a collection with pending writes merged in",
		Example: `  fieldsync view /customers
  fieldsync view /visits --owner c1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(cmd, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "only show pending creates owned by this parent id")
	return cmd
}

func runView(cmd *cobra.Command, opts *ViewOptions, collection string) (err error) {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	path, err := mutation.NormalizePath(collection)
	if err != nil {
		return out.Failure(ExitCommandError, "invalid collection", err)
	}
	v := merge.View{Collection: path}
	if opts.Owner != "" {
		field, ok := resource.ScopeFields[path]
		if !ok {
			return out.Failure(ExitCommandError, fmt.Sprintf("%s has no owner field", path), nil)
		}
		v.Scope = merge.ScopeField(field, opts.Owner)
	}

	a, err := openQueue(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeApp(a, &err)
	if err := a.buildEngine(cmd.Context()); err != nil {
		return err
	}

	entries, err := view.Collection[merge.Record](cmd.Context(), a.cache, a.queue, merge.Documents{}, v)
	if err != nil {
		return out.Failure(ExitFailure, "fetch "+path, err)
	}
	return out.Success(entries, func(w io.Writer) error {
		return writeEntries(w, entries)
	})
}

func writeEntries(w io.Writer, entries []merge.Entry[merge.Record]) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No items")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tFIELDS")
	for _, e := range entries {
		state := "synced"
		if e.Pending {
			state = "pending " + string(e.PendingAction)
		}
		fields := maps.Clone(e.Item)
		id := fmt.Sprint(fields["id"])
		delete(fields, "id")
		b, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id, state, b)
	}
	return tw.Flush()
}
