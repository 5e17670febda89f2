package merge_test

import (
	"fmt"
	"slices"

	"github.com/c0deZ3R0/fieldsync/merge"
	"github.com/c0deZ3R0/fieldsync/mutation"
)

// ExampleMerge shows a customer list as the app renders it while three
// writes are still queued.
func ExampleMerge() {
	server := []merge.Record{
		{"id": "c1", "name": "Ash Lane"},
		{"id": "c2", "name": "Birch Farm"},
	}
	queued := []mutation.Task{
		{ID: "t1", Method: mutation.Patch, ResourcePath: "/customers/c1",
			Body: mutation.NewDocument(map[string]any{"phone": "555-0101"})},
		{ID: "t2", Method: mutation.Delete, ResourcePath: "/customers/c2"},
		{ID: "t3", Method: mutation.Create, ResourcePath: "/customers",
			Body: mutation.NewDocument(map[string]any{"name": "Cedar"})},
	}

	entries := merge.Merge[merge.Record](server, slices.Values(queued),
		merge.View{Collection: "/customers"}, merge.Documents{})
	for _, e := range entries {
		fmt.Println(e.Item["id"], e.Item["name"], e.Item["phone"], e.PendingAction)
	}

	// Output:
	// tmp-t3 Cedar <nil> CREATE
	// c1 Ash Lane 555-0101 UPDATE
}

// ExampleStatusOf reports the badge for a single item.
func ExampleStatusOf() {
	queued := []mutation.Task{
		{ID: "t1", Method: mutation.Delete, ResourcePath: "/visits/v9"},
	}
	st := merge.StatusOf(slices.Values(queued), "/visits/v9")
	fmt.Println(st.Pending, st.PendingAction, st.TaskID)

	// Output:
	// true DELETE t1
}
