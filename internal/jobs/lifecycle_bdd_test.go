package jobs_test

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"backjob/internal/cache"
	"backjob/internal/jobs"
)

// queuedTransport remembers triggered invocations so a test can run them
// later, as the server would.
type queuedTransport struct {
	mu      sync.Mutex
	pending []url.Values
}

func (q *queuedTransport) Trigger(_ context.Context, _ string, params url.Values, _ *jobs.Caller) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, params)
	return nil
}

func (q *queuedTransport) next() url.Values {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := q.pending[0]
	q.pending = q.pending[1:]
	return p
}

var _ = Describe("Job lifecycle", func() {
	var (
		ctx        context.Context
		clk        *clock
		mem        *cache.Memory
		durable    *memDurable
		store      *jobs.Store
		dispatcher *jobs.Dispatcher
		hooks      *jobs.Hooks
		transport  *queuedTransport
	)

	BeforeEach(func() {
		ctx = context.Background()
		clk = newClock()
		mem = cache.NewMemory(0)
		durable = newMemDurable()
		transport = &queuedTransport{}
	})

	JustBeforeEach(func() {
		var err error
		store, err = jobs.NewStore(jobs.StoreOptions{
			Cache:        mem,
			Durable:      durable,
			ErrorTimeout: time.Minute,
			Time:         clk,
			Logger:       discardLogger(),
		})
		Expect(err).NotTo(HaveOccurred())
		dispatcher = jobs.NewDispatcher(store, transport, discardLogger())
		hooks = jobs.NewHooks(store, discardLogger())
	})

	// invoke detects and begins the next queued invocation from loopback.
	invoke := func() *jobs.Invocation {
		params := transport.next()
		id, err := hooks.Detect(jobs.Origin{
			RemoteAddr: "127.0.0.1:53000",
			LocalAddr:  "127.0.0.1:8080",
			JobID:      params.Get(jobs.JobIDParam),
		})
		Expect(err).NotTo(HaveOccurred())
		inv, err := hooks.Begin(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		return inv
	}

	Describe("a job that runs to completion", func() {
		BeforeEach(func() {
			// Six jobs already exist.
			for i := 0; i < 6; i++ {
				_, err := durable.Insert(ctx, jobs.Patch{})
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("reports Started, InProgress and Completed in order", func() {
			id, err := dispatcher.Start(ctx, jobs.Route("report/generate"), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(int64(7)))

			rec, err := store.GetStatus(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Progress).To(Equal(0))
			Expect(rec.Status).To(Equal(jobs.StatusStarted))

			inv := invoke()
			Expect(inv.ID()).To(Equal(id))

			clk.Advance(10 * time.Second)
			Expect(inv.Progress(ctx, 50)).To(Succeed())
			rec, err = store.GetStatus(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Progress).To(Equal(50))
			Expect(rec.Status).To(Equal(jobs.StatusInProgress))

			clk.Advance(10 * time.Second)
			Expect(hooks.End(ctx, inv, nil)).To(Succeed())
			rec, err = store.GetStatus(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Progress).To(Equal(100))
			Expect(rec.Status).To(Equal(jobs.StatusCompleted))
			Expect(rec.EndTime).NotTo(BeNil())
			finishedAt := *rec.EndTime

			clk.Advance(10 * time.Second)
			Expect(store.Finish(ctx, id, jobs.Patch{})).To(Succeed())
			rec, err = store.GetStatus(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(*rec.EndTime).To(Equal(finishedAt))
		})
	})

	Describe("a job that dies silently", func() {
		It("is failed by the next poll after the timeout", func() {
			id, err := dispatcher.Start(ctx, jobs.Route("report/generate"), nil)
			Expect(err).NotTo(HaveOccurred())

			inv := invoke()
			Expect(inv.Progress(ctx, 20)).To(Succeed())

			clk.Advance(2 * time.Minute)
			rec, err := store.GetStatus(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(jobs.StatusFailed))
			Expect(rec.StatusText).To(Equal(jobs.TimeoutText))

			By("ignoring the late job's completion")
			Expect(hooks.End(ctx, inv, nil)).To(Succeed())
			rec, err = store.GetStatus(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(jobs.StatusFailed))
		})
	})

	Describe("cache only", func() {
		JustBeforeEach(func() {
			var err error
			store, err = jobs.NewStore(jobs.StoreOptions{Cache: mem, ErrorTimeout: time.Minute, Time: clk, Logger: discardLogger()})
			Expect(err).NotTo(HaveOccurred())
			dispatcher = jobs.NewDispatcher(store, transport, discardLogger())
			hooks = jobs.NewHooks(store, discardLogger())
		})

		It("allocates ids from the cache counter", func() {
			Expect(mem.Set(ctx, jobs.DefaultCachePrefix+"maxid", []byte("6"))).To(Succeed())

			id, err := dispatcher.Start(ctx, jobs.Route("report/generate"), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(int64(7)))
			Expect(transport.next().Get(jobs.JobIDParam)).To(Equal(strconv.FormatInt(id, 10)))
		})

		It("serves a job end to end", func() {
			id, err := dispatcher.Start(ctx, jobs.Route("cleanup"), nil)
			Expect(err).NotTo(HaveOccurred())

			inv := invoke()
			inv.Logger().Info("removed stale files", "count", 3)
			Expect(hooks.End(ctx, inv, nil)).To(Succeed())

			rec, err := store.GetStatus(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(jobs.StatusCompleted))
			Expect(rec.StatusText).To(ContainSubstring("removed stale files"))
		})
	})
})
