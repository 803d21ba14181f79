package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cortexhq/cortex/common/logger"
	"github.com/redis/go-redis/v9"
)

// Producer enqueues an AnswerJob for asynchronous processing by cmd/worker.
type Producer interface {
	Enqueue(ctx context.Context, job AnswerJob) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
}

func NewRedisProducer(client *redis.Client, stream string) Producer {
	return &redisProducer{
		client: client,
		stream: stream,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, job AnswerJob) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RequestID: &job.RequestID,
		Workspace: &job.Workspace,
		Component: "cortex.queue.producer",
	})

	attempt := job.Attempt
	if attempt <= 0 {
		attempt = 1
	}
	job.Attempt = attempt

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal answer job: %w", err)
	}

	// TODO - cap stream length with MAXLEN ~ once a retention policy is chosen;
	// unbounded XAdd will grow the stream indefinitely under sustained load.
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"request_id": job.RequestID,
			"attempt":    attempt,
			"payload":    string(payload),
		},
	}).Err(); err != nil {
		return fmt.Errorf("enqueue answer job (stream=%s): %w", p.stream, err)
	}

	slog.InfoContext(ctx, "enqueued answer job",
		"request_id", job.RequestID,
		"workspace", job.Workspace,
		"attempt", attempt,
		"stream", p.stream)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
