package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/oskarhn/gnss-assist/internal/assist"
	"github.com/oskarhn/gnss-assist/internal/cache"
	"github.com/oskarhn/gnss-assist/internal/cache/redisstore"
	"github.com/oskarhn/gnss-assist/internal/logger"
	"github.com/oskarhn/gnss-assist/internal/queue"
	"github.com/oskarhn/gnss-assist/internal/resolver"
)

type enqueued struct {
	topic string
	body  []byte
	opts  queue.Options
}

type fakeQueue struct {
	sent []enqueued
}

func (q *fakeQueue) Enqueue(_ context.Context, topic string, body []byte, opts queue.Options) error {
	q.sent = append(q.sent, enqueued{topic: topic, body: body, opts: opts})
	return nil
}

func (q *fakeQueue) byTopic(topic string) []enqueued {
	var out []enqueued
	for _, e := range q.sent {
		if e.topic == topic {
			out = append(out, e)
		}
	}
	return out
}

type delivery struct {
	deviceID string
	payloads [][]byte
}

type fakeDispatcher struct {
	deliveries []delivery
}

func (d *fakeDispatcher) Deliver(_ context.Context, deviceID string, _ assist.ProtocolName, payloads [][]byte) error {
	d.deliveries = append(d.deliveries, delivery{deviceID: deviceID, payloads: payloads})
	return nil
}

type fixture struct {
	sched *Scheduler
	cache *cache.ResolutionCache
	q     *fakeQueue
	disp  *fakeDispatcher
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	store, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		q:    &fakeQueue{},
		disp: &fakeDispatcher{},
		now:  time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	f.cache = cache.New(store, cache.Options{Clock: func() time.Time { return f.now }})
	f.sched = New(Config{
		BinHours:          1,
		InitialDelay:      5 * time.Second,
		DelayFactor:       1.5,
		MaxDelay:          900 * time.Second,
		MaxResolutionTime: 180 * time.Second,
		RetryTopic:        "retry",
		ResolveTopic:      "resolve",
	}, f.cache, f.q, f.disp, Options{Clock: func() time.Time { return f.now }})
	return f
}

func request(deviceID string) assist.Request {
	return assist.Request{
		Protocol: assist.ProtocolAGNSS,
		DeviceID: deviceID,
		MCC:      260, MNC: 1, Cell: 100, Area: 200,
		Types: []assist.DataType{assist.TypeEphemerides},
	}
}

func TestFreshMissClaimsAndRequeues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.sched.Fresh(ctx, request("dev-1"))
	if err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	if out != OutcomePending {
		t.Fatalf("want pending, got %s", out)
	}

	jobs := f.q.byTopic("resolve")
	if len(jobs) != 1 {
		t.Fatalf("want exactly one resolve job, got %d", len(jobs))
	}
	var job resolver.Job
	if err := json.Unmarshal(jobs[0].body, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Request.DeviceID != "dev-1" || job.Key == "" {
		t.Fatalf("bad job: %+v", job)
	}

	retries := f.q.byTopic("retry")
	if len(retries) != 1 {
		t.Fatalf("want one requeued delivery, got %d", len(retries))
	}
	if retries[0].opts.TTL != 180*time.Second {
		t.Fatalf("requeued message TTL must mirror the deadline, got %s", retries[0].opts.TTL)
	}
}

func TestSecondRequesterDoesNotEnqueueResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.sched.Fresh(ctx, request("dev-1")); err != nil {
		t.Fatalf("Fresh dev-1: %v", err)
	}
	if _, err := f.sched.Fresh(ctx, request("dev-2")); err != nil {
		t.Fatalf("Fresh dev-2: %v", err)
	}

	if jobs := f.q.byTopic("resolve"); len(jobs) != 1 {
		t.Fatalf("duplicate requester must not enqueue a second resolve job, got %d", len(jobs))
	}
	if retries := f.q.byTopic("retry"); len(retries) != 2 {
		t.Fatalf("both requesters must wait, got %d requeues", len(retries))
	}
}

func TestBackoffIsMonotonicAndCapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Large deadline so the requeue loop runs long enough to hit the cap.
	f.sched.cfg.MaxResolutionTime = 24 * time.Hour

	pd := PendingDelivery{DeviceID: "dev-1", Request: request("dev-1"), FirstSeenAt: f.now}

	var prev time.Duration
	for i := 0; i < 25; i++ {
		out, err := f.sched.Handle(ctx, pd)
		if err != nil {
			t.Fatalf("Handle #%d: %v", i, err)
		}
		if out != OutcomePending {
			t.Fatalf("Handle #%d: want pending, got %s", i, out)
		}
		last := f.q.sent[len(f.q.sent)-1]
		if last.topic != "retry" {
			t.Fatalf("Handle #%d: last enqueue went to %q", i, last.topic)
		}
		d := last.opts.Delay
		if d < prev {
			t.Fatalf("delay shrank: %s after %s", d, prev)
		}
		if d > 900*time.Second {
			t.Fatalf("delay exceeds cap: %s", d)
		}
		prev = d
		if err := json.Unmarshal(last.body, &pd); err != nil {
			t.Fatalf("decode requeued delivery: %v", err)
		}
	}
	if prev != 900*time.Second {
		t.Fatalf("delay never reached the cap, last=%s", prev)
	}
}

func TestTimeoutBoundaryDropsDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := request("dev-1")
	if _, err := f.sched.Fresh(ctx, req); err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	sentBefore := len(f.q.sent)

	pd := PendingDelivery{
		DeviceID:    "dev-1",
		Request:     req,
		FirstSeenAt: f.now.Add(-(180*time.Second + time.Second)),
	}
	out, err := f.sched.Handle(ctx, pd)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out != OutcomeTimedOut {
		t.Fatalf("want timed_out, got %s", out)
	}
	if len(f.q.sent) != sentBefore {
		t.Fatalf("timed-out delivery must not be re-enqueued")
	}
	if len(f.disp.deliveries) != 0 {
		t.Fatalf("timed-out delivery must not dispatch")
	}
}

func TestResolvedEntryIsDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := request("dev-1")
	if _, err := f.sched.Fresh(ctx, req); err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	var job resolver.Job
	if err := json.Unmarshal(f.q.byTopic("resolve")[0].body, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	payloads := [][]byte{{0x01, 0xaa}, {0x01, 0xbb}}
	if err := f.cache.MarkResolved(ctx, job.Key, req, payloads); err != nil {
		t.Fatalf("MarkResolved: %v", err)
	}

	out, err := f.sched.Handle(ctx, PendingDelivery{DeviceID: "dev-1", Request: req, FirstSeenAt: f.now})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out != OutcomeDelivered {
		t.Fatalf("want delivered, got %s", out)
	}
	if len(f.disp.deliveries) != 1 || len(f.disp.deliveries[0].payloads) != 2 {
		t.Fatalf("bad deliveries: %+v", f.disp.deliveries)
	}
}

// A delivery that finds the resolved payloads is completed even when its
// deadline has already passed: the deadline exists to stop waiting on the
// resolver, not to discard work that is already done.
func TestResolvedEntryDeliveredPastDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := request("dev-1")
	if _, err := f.sched.Fresh(ctx, req); err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	var job resolver.Job
	if err := json.Unmarshal(f.q.byTopic("resolve")[0].body, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if err := f.cache.MarkResolved(ctx, job.Key, req, [][]byte{{0x01, 0xaa}}); err != nil {
		t.Fatalf("MarkResolved: %v", err)
	}

	out, err := f.sched.Handle(ctx, PendingDelivery{
		DeviceID:    "dev-1",
		Request:     req,
		FirstSeenAt: f.now.Add(-(180*time.Second + time.Minute)),
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out != OutcomeDelivered {
		t.Fatalf("want delivered even past the deadline, got %s", out)
	}
	if len(f.disp.deliveries) != 1 {
		t.Fatalf("want 1 delivery, got %d", len(f.disp.deliveries))
	}
}

func TestFailedEntryStopsRescheduling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := request("dev-1")
	if _, err := f.sched.Fresh(ctx, req); err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	var job resolver.Job
	if err := json.Unmarshal(f.q.byTopic("resolve")[0].body, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if err := f.cache.MarkFailed(ctx, job.Key, req); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	sentBefore := len(f.q.sent)

	out, err := f.sched.Handle(ctx, PendingDelivery{DeviceID: "dev-1", Request: req, FirstSeenAt: f.now})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out != OutcomeFailed {
		t.Fatalf("want failed, got %s", out)
	}
	if len(f.q.sent) != sentBefore {
		t.Fatalf("failed delivery must not be re-enqueued")
	}
	if len(f.disp.deliveries) != 0 {
		t.Fatalf("failed delivery must not dispatch")
	}
}

func TestHandleLogsCarryRequestScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var buf bytes.Buffer
	zl := logger.Build(logger.Config{Level: "debug"}, &buf)
	sched := New(f.sched.cfg, f.cache, f.q, f.disp, Options{
		Logger: logger.NewSlog(&zl),
		Clock:  func() time.Time { return f.now },
	})

	if _, err := sched.Fresh(ctx, request("dev-1")); err != nil {
		t.Fatalf("Fresh: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"device_id":"dev-1"`) {
		t.Fatalf("device id missing from scheduler logs: %s", out)
	}
	if !strings.Contains(out, `"protocol":"agnss"`) {
		t.Fatalf("protocol missing from scheduler logs: %s", out)
	}
	if !strings.Contains(out, `"cache_key":"agnss:`) {
		t.Fatalf("cache key missing from scheduler logs: %s", out)
	}
}

func TestHandleRetryDecodesQueueMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := request("dev-1")
	pd := PendingDelivery{DeviceID: "dev-1", Request: req, FirstSeenAt: f.now, CurrentDelay: 5 * time.Second}
	body, err := json.Marshal(pd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := f.sched.HandleRetry(ctx, body); err != nil {
		t.Fatalf("HandleRetry: %v", err)
	}

	retries := f.q.byTopic("retry")
	if len(retries) != 1 {
		t.Fatalf("want one requeue, got %d", len(retries))
	}
	// 5s * 1.5 = 7.5s
	if retries[0].opts.Delay != 7500*time.Millisecond {
		t.Fatalf("want 7.5s delay, got %s", retries[0].opts.Delay)
	}
}
