package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
)

func TestNewRetryTask(t *testing.T) {
	task, err := NewRetryTask(RetryPayload{RecordID: "rec1", OperatorID: "u1"})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Type() != RetrySyncTask {
		t.Fatalf("unexpected type %s", task.Type())
	}
	var p RetryPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil || p.RecordID != "rec1" {
		t.Fatalf("unexpected payload %s", task.Payload())
	}
	if _, err := NewRetryTask(RetryPayload{}); err == nil {
		t.Fatalf("expected error for empty record id")
	}
}

func TestHandleRetry(t *testing.T) {
	var got string
	p := NewProcessor(func(ctx context.Context, id, operator string) error {
		got = id
		return nil
	}, nil)
	task, _ := NewRetryTask(RetryPayload{RecordID: "rec9"})
	if err := p.HandleRetry(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got != "rec9" {
		t.Fatalf("retry called with %q", got)
	}
}

func TestHandleRetryFailureSkipsRetry(t *testing.T) {
	p := NewProcessor(func(ctx context.Context, id, operator string) error {
		return errors.New("registry down")
	}, nil)
	task, _ := NewRetryTask(RetryPayload{RecordID: "rec9"})
	err := p.HandleRetry(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}
