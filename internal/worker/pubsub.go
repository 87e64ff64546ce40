package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// SyncMessage is an on-demand sync request.
type SyncMessage struct {
	JobType   string   `json:"job_type"`
	Locations []string `json:"locations,omitempty"`
}

// Dispatcher runs sync jobs for decoded messages and decides their
// acknowledgement.
type Dispatcher struct {
	job    *SyncJob
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher for job.
func NewDispatcher(job *SyncJob, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{job: job, logger: logger}
}

// Handle processes one message payload and reports whether it should be
// acked. Malformed and unknown messages are acked so they are not
// redelivered, as are runs rejected with 400. Runs that end in 500 are
// nacked for retry.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) (ack bool) {
	var msg SyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		d.logger.Error().Err(err).Msg("failed to parse message")
		return true
	}

	target, err := ParseTarget(msg.JobType)
	if err != nil {
		d.logger.Warn().Str("job_type", msg.JobType).Msg("unknown job type")
		return true
	}

	result := d.job.Run(ctx, target, msg.Locations)
	switch status := result.Status(); status {
	case http.StatusOK, http.StatusPartialContent:
		return true
	case http.StatusBadRequest:
		d.logger.Warn().Str("job_type", msg.JobType).Strs("locations", msg.Locations).Msg("sync job rejected")
		return true
	default:
		d.logger.Error().Str("job_type", msg.JobType).Int("status", status).Msg("sync job failed")
		return false
	}
}

// PubSubHandler feeds Pub/Sub messages to a Dispatcher.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       *Dispatcher
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// One sync at a time.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.MaxExtension = 6 * time.Hour

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       cfg.Dispatcher,
		logger:           cfg.Logger,
	}, nil
}

// Start processes Pub/Sub messages until ctx is cancelled.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	if !h.dispatcher.Handle(ctx, msg.Data) {
		msg.Nack()
		return
	}

	logger.Info().
		Dur("duration", time.Since(startTime)).
		Msg("message handled")
	msg.Ack()
}
