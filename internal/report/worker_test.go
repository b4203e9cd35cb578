package report

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mangwale/voice-platform/internal/call"
	"github.com/mangwale/voice-platform/pkg/logging"
)

type scriptedQueue struct {
	ch       chan queueMessage
	deleted  int
	delMutex sync.Mutex
}

func newScriptedQueue() *scriptedQueue {
	return &scriptedQueue{
		ch: make(chan queueMessage, 10),
	}
}

func (s *scriptedQueue) enqueue(msg queueMessage) {
	s.ch <- msg
}

func (s *scriptedQueue) Send(ctx context.Context, body string) error {
	return nil
}

func (s *scriptedQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-s.ch:
		return []queueMessage{msg}, nil
	case <-time.After(50 * time.Millisecond):
		return nil, nil
	}
}

func (s *scriptedQueue) Delete(ctx context.Context, receiptHandle string) error {
	s.delMutex.Lock()
	s.deleted++
	s.delMutex.Unlock()
	return nil
}

func (s *scriptedQueue) deleteCount() int {
	s.delMutex.Lock()
	defer s.delMutex.Unlock()
	return s.deleted
}

func TestWorkerDeliversQueuedReports(t *testing.T) {
	upstream := &upstreamStub{}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	queue := newScriptedQueue()
	store := call.NewStore(call.StoreConfig{})
	st := reportState()
	store.Put(st)

	reporter := NewReporter(queue, store, server.URL, logging.Default())
	worker := NewWorker(queue, reporter, logging.Default(),
		WithWorkerCount(1), WithReceiveBatchSize(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	_, body, err := encodeJob(job{State: st.Clone()})
	if err != nil {
		t.Fatalf("encodeJob returned error: %v", err)
	}
	queue.enqueue(queueMessage{ID: "msg-1", Body: body, ReceiptHandle: "rh-1"})

	waitFor(func() bool {
		return upstream.count() > 0
	}, time.Second, t)

	cancel()
	worker.Wait()

	if upstream.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", upstream.count())
	}
	if queue.deleteCount() != 1 {
		t.Fatalf("expected delete to be invoked once, got %d", queue.deleteCount())
	}

	updated, _ := store.Get("CA900")
	if !updated.Reported {
		t.Fatal("expected session reported after worker delivery")
	}
}

func TestWorkerDropsMalformedJobs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called for a malformed job")
	}))
	defer server.Close()

	queue := newScriptedQueue()
	reporter := NewReporter(queue, call.NewStore(call.StoreConfig{}), server.URL, logging.Default())
	worker := NewWorker(queue, reporter, logging.Default(),
		WithWorkerCount(1), WithReceiveBatchSize(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	queue.enqueue(queueMessage{ID: "msg-bad", Body: "{not json", ReceiptHandle: "rh-bad"})

	waitFor(func() bool {
		return queue.deleteCount() == 1
	}, time.Second, t)

	cancel()
	worker.Wait()
}

func TestWorkerOptionCaps(t *testing.T) {
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}

	WithWorkerCount(0)(&cfg)
	if cfg.workers != defaultWorkerCount {
		t.Fatalf("zero worker count must keep the default, got %d", cfg.workers)
	}
	WithReceiveWaitSeconds(99)(&cfg)
	if cfg.receiveWaitSecs != maxWaitSeconds {
		t.Fatalf("expected wait capped at %d, got %d", maxWaitSeconds, cfg.receiveWaitSecs)
	}
	WithReceiveBatchSize(50)(&cfg)
	if cfg.receiveBatchSize != maxReceiveBatchSize {
		t.Fatalf("expected batch capped at %d, got %d", maxReceiveBatchSize, cfg.receiveBatchSize)
	}
}

func TestMemoryQueueRoundTrip(t *testing.T) {
	queue := NewMemoryQueue(8)
	ctx := context.Background()

	for _, body := range []string{"a", "b", "c"} {
		if err := queue.Send(ctx, body); err != nil {
			t.Fatalf("Send returned error: %v", err)
		}
	}

	msgs, err := queue.Receive(ctx, 10, 1)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if msgs[i].Body != want {
			t.Fatalf("message %d: expected body %q, got %q", i, want, msgs[i].Body)
		}
		if msgs[i].ID == "" || msgs[i].ReceiptHandle == "" {
			t.Fatalf("message %d missing identifiers: %+v", i, msgs[i])
		}
	}

	if err := queue.Delete(ctx, msgs[0].ReceiptHandle); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
}

func TestMemoryQueueReceiveHonorsContext(t *testing.T) {
	queue := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := queue.Receive(ctx, 1, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMemoryQueueReceiveTimesOutEmpty(t *testing.T) {
	queue := NewMemoryQueue(1)

	start := time.Now()
	msgs, err := queue.Receive(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if msgs != nil {
		t.Fatalf("expected empty receive, got %v", msgs)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("expected Receive to wait roughly a second, returned after %s", elapsed)
	}
}
