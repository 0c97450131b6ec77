package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/apoorvlathey/invite-markets-sub002/internal/notify"
)

// TypeSaleNotify is the task type for outbound sale notifications.
const TypeSaleNotify = "sale:notify"

// --- Task Client (Enqueuing tasks) ---

func NewClient(rdb *redis.Client) *asynq.Client {
	clientOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}
	return asynq.NewClient(clientOpt)
}

// NewSaleNotifyTask builds a sale-notification task from the event payload.
func NewSaleNotifyTask(event notify.SaleEvent) (*asynq.Task, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sale event: %w", err)
	}
	return asynq.NewTask(TypeSaleNotify, payload, asynq.MaxRetry(3)), nil
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	sender notify.Sender
}

func NewTaskProcessor(sender notify.Sender) *TaskProcessor {
	return &TaskProcessor{sender: sender}
}

// SetupServer configures and returns an Asynq server instance with the sale
// notification handler registered.
func SetupServer(rdb *redis.Client, processor *TaskProcessor) (*asynq.Server, *asynq.ServeMux) {
	serverOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}

	srv := asynq.NewServer(
		serverOpt,
		asynq.Config{
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				fmt.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v\n", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSaleNotify, processor.HandleSaleNotifyTask)
	fmt.Println("Registered sale notification task handler.")

	return srv, mux
}

// HandleSaleNotifyTask delivers one sale notification through the configured
// sender. Errors are returned so asynq can retry transient webhook failures.
func (p *TaskProcessor) HandleSaleNotifyTask(ctx context.Context, t *asynq.Task) error {
	var event notify.SaleEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return fmt.Errorf("failed to unmarshal sale event: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.sender.Notify(ctx, event); err != nil {
		return fmt.Errorf("failed to deliver sale notification for listing %s: %w", event.ListingSlug, err)
	}
	return nil
}
