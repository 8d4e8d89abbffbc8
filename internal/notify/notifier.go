// Package notify emits asset lifecycle events after a pipeline run
// completes. Delivery is fire-and-forget: the pipeline never blocks on, or
// fails because of, a notification.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/polyforge/polyforge-backend/internal/logger"
	"github.com/polyforge/polyforge-backend/internal/utils"
)

const EventChannel = "asset.events"

type ProcessedEvent struct {
	Type        string            `json:"type"`
	AssetID     uuid.UUID         `json:"asset_id"`
	Status      string            `json:"status"`
	StageStatus map[string]string `json:"stage_status,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

type Notifier interface {
	AssetProcessed(ctx context.Context, event ProcessedEvent)
}

type notifier struct {
	log        *logger.Logger
	rdb        *redis.Client
	webhookURL string
	httpClient *http.Client
}

// New builds a notifier publishing to redis (if a client is supplied) and to
// an optional webhook endpoint (PROCESSED_WEBHOOK_URL).
func New(log *logger.Logger, rdb *redis.Client) Notifier {
	return &notifier{
		log:        log.With("service", "Notifier"),
		rdb:        rdb,
		webhookURL: strings.TrimSpace(utils.GetEnv("PROCESSED_WEBHOOK_URL", "", log)),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *notifier) AssetProcessed(ctx context.Context, event ProcessedEvent) {
	if event.Type == "" {
		event.Type = "asset.processed"
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		n.log.Warn("Could not marshal processed event", "asset_id", event.AssetID, "error", err)
		return
	}

	if n.rdb != nil {
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := n.rdb.Publish(pubCtx, EventChannel, payload).Err(); err != nil {
			n.log.Warn("Redis publish failed (ignored)", "asset_id", event.AssetID, "error", err)
		}
		cancel()
	}

	if n.webhookURL != "" {
		// Detached from the run's context so a finished run does not cancel
		// an in-flight delivery.
		go n.postWebhook(payload, event.AssetID)
	}
}

func (n *notifier) postWebhook(payload []byte, assetID uuid.UUID) {
	req, err := http.NewRequest(http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		n.log.Warn("Webhook request build failed (ignored)", "asset_id", assetID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.log.Warn("Webhook delivery failed (ignored)", "asset_id", assetID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log.Warn("Webhook returned non-success (ignored)", "asset_id", assetID, "status", resp.StatusCode)
	}
}

// NewRedisClient connects using REDIS_ADDR; empty means no redis, which
// downgrades the notifier to webhook-only.
func NewRedisClient(log *logger.Logger) *redis.Client {
	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: utils.GetEnv("REDIS_PASSWORD", "", nil),
	})
}
