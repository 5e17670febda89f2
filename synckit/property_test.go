package synckit

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/c0deZ3R0/fieldsync/auth"
	"github.com/c0deZ3R0/fieldsync/connectivity"
	"github.com/c0deZ3R0/fieldsync/logging"
	"github.com/c0deZ3R0/fieldsync/mutation"
	"github.com/c0deZ3R0/fieldsync/queue"
	"github.com/c0deZ3R0/fieldsync/storage"
	"github.com/c0deZ3R0/fieldsync/transport"
)

// Whatever mix of acceptances, rejections and network failures the server
// produces, tasks go out in queue order and each settles exactly once.
func TestDrainOrderAndSettlementProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "tasks")
		// 0 stands for a transport failure.
		outcomes := rapid.SliceOfN(rapid.SampledFrom([]int{http.StatusOK, http.StatusConflict, 0}), 0, 3*n).Draw(rt, "outcomes")

		remote := &fakeRemote{respond: func(call int, _ transport.Request) (*transport.Response, error) {
			if call > len(outcomes) || outcomes[call-1] == http.StatusOK {
				return status(http.StatusOK)
			}
			if outcomes[call-1] == 0 {
				return networkDown()
			}
			return status(outcomes[call-1])
		}}

		q := queue.New(context.Background(), storage.NewMemory(), queue.WithLogger(logging.Discard()))
		defer q.Close(context.Background())
		e, err := New(q, remote,
			WithCredentials(auth.Static("tok")),
			WithMonitor(connectivity.Always(true)),
			WithLogger(logging.Discard()),
			WithInterval(-1),
			WithBackoff(ExponentialBackoff{InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}))
		if err != nil {
			rt.Fatal(err)
		}
		defer e.Close()

		position := make(map[string]int, n)
		for i := range n {
			task := q.Enqueue(queue.Op{Method: mutation.Delete, Path: fmt.Sprintf("/visits/%d", i)})
			position[task.ID] = i
		}

		settled := 0
		for pass := 0; q.Len() > 0 && pass <= len(outcomes)+n; pass++ {
			res, err := e.Drain(context.Background())
			if err != nil {
				rt.Fatal(err)
			}
			settled += res.Sent + res.Rejected
		}
		if q.Len() != 0 {
			rt.Fatalf("%d tasks left after every failure was spent", q.Len())
		}
		if settled != n {
			rt.Fatalf("settled %d of %d tasks", settled, n)
		}

		last := -1
		for _, r := range remote.requests() {
			i, ok := position[r.IdempotencyKey]
			if !ok {
				rt.Fatalf("request carries unknown key %q", r.IdempotencyKey)
			}
			if i < last {
				rt.Fatalf("task %d sent after task %d", i, last)
			}
			last = i
		}
	})
}
