package consumer

import (
	"context"
	"errors"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/calebrhodes/photoflow-backend/internal/dispatch"
	"github.com/calebrhodes/photoflow-backend/internal/pipeline"
	"github.com/calebrhodes/photoflow-backend/pkg/enums"
	pkgerrors "github.com/calebrhodes/photoflow-backend/pkg/errors"
	"github.com/calebrhodes/photoflow-backend/pkg/logger"
)

const consumerName = "processing-jobs"

type jobRunner interface {
	RunBatch(ctx context.Context, trigger string, maxItems int) (pipeline.BatchSummary, error)
	AnalyzeOne(ctx context.Context, itemID uuid.UUID, force bool, trigger string) error
}

type deduplicator interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, jobID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, jobID uuid.UUID) error
}

// Consumer drains the processing-jobs subscription and drives the runner.
type Consumer struct {
	runner       jobRunner
	dedupe       deduplicator
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

// NewConsumer constructs a consumer bound to the jobs subscription.
func NewConsumer(runner jobRunner, dedupe deduplicator, subscription *pubsub.Subscriber, logg *logger.Logger) (*Consumer, error) {
	if runner == nil {
		return nil, errors.New("job runner is required")
	}
	if dedupe == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if subscription == nil {
		return nil, errors.New("jobs subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		runner:       runner,
		dedupe:       dedupe,
		subscription: subscription,
		logg:         logg,
	}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg.Data, msg.ID)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, data []byte, messageID string) processResult {
	logCtx := c.logg.WithField(ctx, "message_id", messageID)

	job, err := dispatch.UnmarshalJob(data)
	if err != nil {
		// A malformed envelope will never become valid on redelivery.
		c.logg.Error(logCtx, "discarding invalid job envelope", err)
		return processResult{ack: true}
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"job_id":   job.ID.String(),
		"job_kind": job.Kind.String(),
		"trigger":  job.Trigger,
	})

	duplicate, err := c.dedupe.CheckAndMarkProcessed(logCtx, consumerName, job.ID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if duplicate {
		c.logg.Info(logCtx, "skipping duplicate job")
		return processResult{ack: true}
	}

	if err := c.handle(logCtx, job); err != nil {
		c.logg.Error(logCtx, "job processing failed", err)
		if pkgerrors.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
			// Clear the marker so the redelivery is not mistaken for a
			// duplicate.
			if delErr := c.dedupe.Delete(ctx, consumerName, job.ID); delErr != nil {
				c.logg.Warn(c.logg.WithField(logCtx, "delete_error", delErr.Error()), "failed to clear idempotency marker")
			}
			return processResult{nack: true}
		}
		return processResult{ack: true}
	}

	return processResult{ack: true}
}

func (c *Consumer) handle(ctx context.Context, job dispatch.Job) error {
	start := time.Now()
	switch job.Kind {
	case enums.JobKindBatch:
		summary, err := c.runner.RunBatch(ctx, job.Trigger, job.MaxItems)
		if err != nil {
			return err
		}
		c.logg.Info(c.logg.WithFields(ctx, map[string]any{
			"processed":   summary.Processed,
			"succeeded":   summary.Succeeded,
			"failed":      summary.Failed,
			"duration_ms": time.Since(start).Milliseconds(),
		}), "batch job finished")
		return nil
	case enums.JobKindSingle:
		if err := c.runner.AnalyzeOne(ctx, job.ItemID, job.Force, job.Trigger); err != nil {
			return err
		}
		c.logg.Info(c.logg.WithItemID(ctx, job.ItemID.String()), "single item job finished")
		return nil
	default:
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "unknown job kind")
	}
}
