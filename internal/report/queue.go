package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mangwale/voice-platform/internal/call"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// job carries one terminal call record awaiting upstream delivery. The full
// state snapshot travels with the job because the session store may already
// have evicted the record by the time a worker picks it up.
type job struct {
	ID       string      `json:"id"`
	Attempt  int         `json:"attempt"`
	QueuedAt time.Time   `json:"queued_at"`
	State    *call.State `json:"state"`
}

func encodeJob(j job) (job, string, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.QueuedAt.IsZero() {
		j.QueuedAt = time.Now().UTC()
	}

	body, err := json.Marshal(j)
	if err != nil {
		return job{}, "", fmt.Errorf("report: failed to encode job: %w", err)
	}

	return j, string(body), nil
}
