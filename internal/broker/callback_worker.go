package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/soilloss/rusle-pipeline/internal/domain"
	"github.com/soilloss/rusle-pipeline/internal/worker"
)

// OrchestratorCallbacks is the slice of orchestrator.Service's callback
// operations the callback worker drives. Declared locally (rather than
// importing the orchestrator package) because orchestrator already imports
// broker for the Broker interface; the concrete adapter satisfying this is
// wired up where both packages are already in scope (cmd/api).
type OrchestratorCallbacks interface {
	TaskStarted(ctx context.Context, e domain.TaskStartedEvent) error
	TaskComplete(ctx context.Context, e domain.TaskCompleteEvent) error
	TaskFailed(ctx context.Context, e domain.TaskFailedEvent) error
}

// CallbackWorker consumes stream:erosion:callback and dispatches each event
// to the orchestrator's task-started/task-complete/task-failed operations.
// The compute worker never calls the orchestrator directly - it only
// publishes to the callback stream - so something on the API side of the
// split has to drain it; this is that something. Modelled on ComputeWorker's
// own consume loop, one stream down.
type CallbackWorker struct {
	*worker.BaseWorker

	broker Broker
	svc    OrchestratorCallbacks
}

func NewCallbackWorker(name, consumerGroup string, logger *zap.Logger, b Broker, svc OrchestratorCallbacks) *CallbackWorker {
	return &CallbackWorker{
		BaseWorker: worker.NewBaseWorker(name, consumerGroup, logger),
		broker:     b,
		svc:        svc,
	}
}

// Start implements worker.Worker.
func (w *CallbackWorker) Start(ctx context.Context) error {
	if err := w.broker.CreateConsumerGroup(ctx, domain.StreamErosionCallback, w.ConsumerGroup()); err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}

	msgs, err := w.broker.Consume(ctx, domain.StreamErosionCallback, w.ConsumerGroup(), w.Name())
	if err != nil {
		return fmt.Errorf("consume callback stream: %w", err)
	}

	for {
		select {
		case <-w.StopChan():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			w.handle(ctx, msg)
		}
	}
}

// handle dispatches one callback event by shape: a failed event carries
// "error_type", a completed event carries "statistics", and a started event
// carries neither - cheaper than adding a discriminator field to three
// structs that are otherwise a clean embed of TaskStartedEvent.
func (w *CallbackWorker) handle(ctx context.Context, msg domain.StreamMessage) {
	defer func() {
		if r := recover(); r != nil {
			w.Logger().Error("callback worker recovered from panic",
				zap.String("message_id", msg.ID), zap.Any("panic", r))
		}
	}()

	raw, err := json.Marshal(msg.Data)
	if err != nil {
		w.Logger().Error("remarshal callback message", zap.Error(err))
		return
	}

	var applyErr error
	switch {
	case msg.Data["error_type"] != nil:
		var e domain.TaskFailedEvent
		if applyErr = json.Unmarshal(raw, &e); applyErr == nil {
			applyErr = w.svc.TaskFailed(ctx, e)
		}
	case msg.Data["statistics"] != nil:
		var e domain.TaskCompleteEvent
		if applyErr = json.Unmarshal(raw, &e); applyErr == nil {
			applyErr = w.svc.TaskComplete(ctx, e)
		}
	default:
		var e domain.TaskStartedEvent
		if applyErr = json.Unmarshal(raw, &e); applyErr == nil {
			applyErr = w.svc.TaskStarted(ctx, e)
		}
	}
	if applyErr != nil {
		w.Logger().Error("apply callback event", zap.String("message_id", msg.ID), zap.Error(applyErr))
	}

	if err := w.broker.Ack(ctx, domain.StreamErosionCallback, w.ConsumerGroup(), msg.ID); err != nil {
		w.Logger().Error("ack callback message", zap.String("message_id", msg.ID), zap.Error(err))
	}
}
