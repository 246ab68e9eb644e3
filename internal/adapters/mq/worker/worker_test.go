package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	queue "github.com/okian/raidsync/internal/adapters/mq/queue"
	worker "github.com/okian/raidsync/internal/adapters/mq/worker"
	model "github.com/okian/raidsync/internal/domain/model"
	"github.com/okian/raidsync/internal/domain/pending"
	logging "github.com/okian/raidsync/pkg/logger"
)

// Mock implementations for testing.
type mockQueue struct {
	jobs chan queue.Job
}

func newMockQueue() *mockQueue {
	return &mockQueue{jobs: make(chan queue.Job, 10)}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan queue.Job {
	return mq.jobs
}

func (mq *mockQueue) Close() error {
	close(mq.jobs)
	return nil
}

type mockFinalizer struct {
	mu        sync.Mutex
	finalized []string
	errs      map[string]error
}

func newMockFinalizer() *mockFinalizer {
	return &mockFinalizer{errs: make(map[string]error)}
}

func (f *mockFinalizer) Finalize(_ context.Context, _ model.Association, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[recordID]; ok {
		return err
	}
	f.finalized = append(f.finalized, recordID)
	return nil
}

func (f *mockFinalizer) setError(recordID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[recordID] = err
}

func (f *mockFinalizer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.finalized)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		_ = logging.Init()

		q := newMockQueue()
		fin := newMockFinalizer()

		convey.Convey("When creating a worker with custom options", func() {
			w := worker.NewInMemoryWorker(q, fin, worker.WithName("test-worker"))

			convey.Convey("Then it should be created successfully", func() {
				convey.So(w, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When running a worker", func() {
			w := worker.NewInMemoryWorker(q, fin)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			convey.Convey("And when processing jobs", func() {
				q.jobs <- queue.Job{Association: "a::1", RecordID: "r1"}

				convey.Convey("Then it should finalize the aggregation", func() {
					convey.So(waitFor(func() bool { return fin.count() == 1 }), convey.ShouldBeTrue)
				})
			})

			convey.Convey("And when a job is stale or fails", func() {
				fin.setError("stale", fmt.Errorf("wrap: %w", pending.ErrNotFound))
				fin.setError("bad", errors.New("store down"))
				q.jobs <- queue.Job{Association: "a::1", RecordID: "stale"}
				q.jobs <- queue.Job{Association: "a::1", RecordID: "bad"}
				q.jobs <- queue.Job{Association: "a::1", RecordID: "good"}

				convey.Convey("Then the worker keeps going", func() {
					convey.So(waitFor(func() bool { return fin.count() == 1 }), convey.ShouldBeTrue)
				})
			})

			convey.Convey("And when shutting down", func() {
				err := w.Shutdown(context.Background())

				convey.Convey("Then it should stop", func() {
					convey.So(err, convey.ShouldBeNil)
				})
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a worker pool over a real queue", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		fin := newMockFinalizer()
		pool := worker.NewPool(4, q, fin, worker.WithLogger(logging.Get().Named("finalize-test")))
		convey.So(pool.Size(), convey.ShouldEqual, 4)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		for i := 0; i < 20; i++ {
			convey.So(q.Enqueue(ctx, queue.Job{Association: "a::1", RecordID: fmt.Sprintf("r%d", i)}), convey.ShouldBeTrue)
		}

		convey.Convey("When the pool shuts down", func() {
			err := pool.Shutdown(context.Background())

			convey.Convey("Then every queued job is finalized first", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(fin.count(), convey.ShouldEqual, 20)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a pool with no explicit size", t, func() {
		_ = logging.Init()
		pool := worker.NewPool(0, newMockQueue(), newMockFinalizer())
		convey.So(pool.Size(), convey.ShouldBeGreaterThan, 0)
	})
}
