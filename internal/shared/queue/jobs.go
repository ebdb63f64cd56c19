// Package queue 运维人员手动触发的同步重试任务
// 失败的任务不会自动重试，重新入队由操作员决定
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	// RetrySyncTask 重发一条同步记录
	RetrySyncTask = "sync:retry"
)

// RetryPayload 任务载荷
type RetryPayload struct {
	RecordID   string `json:"record_id"`
	OperatorID string `json:"operator_id"`
}

// NewRetryTask 构造任务，MaxRetry(0)：失败后留在error状态等待人工处理
func NewRetryTask(p RetryPayload) (*asynq.Task, error) {
	if p.RecordID == "" {
		return nil, fmt.Errorf("record id is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(RetrySyncTask, data, asynq.MaxRetry(0)), nil
}

// EnqueueRetry 入队
func EnqueueRetry(ctx context.Context, client *asynq.Client, p RetryPayload) (string, error) {
	task, err := NewRetryTask(p)
	if err != nil {
		return "", err
	}
	info, err := client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueue retry: %w", err)
	}
	return info.ID, nil
}

// RetryFunc 执行一次重发
type RetryFunc func(ctx context.Context, recordID, operatorID string) error

// Processor asynq任务处理
type Processor struct {
	retry  RetryFunc
	logger *zap.Logger
}

// NewProcessor 创建处理器
func NewProcessor(retry RetryFunc, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{retry: retry, logger: logger}
}

// Handler 注册任务
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(RetrySyncTask, p.HandleRetry)
	return mux
}

// HandleRetry 处理重发任务
func (p *Processor) HandleRetry(ctx context.Context, task *asynq.Task) error {
	var payload RetryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.retry(ctx, payload.RecordID, payload.OperatorID); err != nil {
		p.logger.Warn("sync retry failed",
			zap.String("record_id", payload.RecordID),
			zap.Error(err))
		return fmt.Errorf("retry %s: %v: %w", payload.RecordID, err, asynq.SkipRetry)
	}
	p.logger.Info("sync retry done", zap.String("record_id", payload.RecordID))
	return nil
}
