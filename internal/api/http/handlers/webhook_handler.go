package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/membership-bot/internal/api/dto"
	"github.com/spec-kit/membership-bot/internal/domain"
	"github.com/spec-kit/membership-bot/internal/events"
	"github.com/spec-kit/membership-bot/internal/observability"
	"github.com/spec-kit/membership-bot/internal/platform"
)

// WebhookHandler turns platform event deliveries into dispatcher events.
type WebhookHandler struct {
	dispatcher events.Dispatcher
	deduper    platform.Deduper
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewWebhookHandler returns a new handler instance.
func NewWebhookHandler(dispatcher events.Dispatcher, deduper platform.Deduper, metrics *observability.Metrics, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher, deduper: deduper, metrics: metrics, logger: logger}
}

// HandleDelivery handles POST /webhook/events.
func (h *WebhookHandler) HandleDelivery(c *fiber.Ctx) error {
	var delivery dto.EventDelivery
	if err := c.BodyParser(&delivery); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if delivery.DeliveryID == "" {
		delivery.DeliveryID = uuid.NewString()
	}

	seen, err := h.deduper.Seen(c.Context(), delivery.DeliveryID)
	if err != nil {
		h.logger.Warn("dedupe check failed", zap.Error(err))
	}
	if seen {
		h.metrics.Inc(observability.CounterDuplicateEvents)
		return c.JSON(fiber.Map{"status": "duplicate"})
	}

	event, err := h.toEvent(delivery)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	if err := h.dispatcher.Publish(c.UserContext(), event); err != nil {
		h.logger.Error("publish failed", zap.String("type", string(event.Type)), zap.Error(err))
	}

	return c.Status(http.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

func (h *WebhookHandler) toEvent(delivery dto.EventDelivery) (events.Event, error) {
	event := events.Event{
		ID:        delivery.DeliveryID,
		Type:      events.EventType(delivery.Type),
		Timestamp: time.Now(),
	}

	switch event.Type {
	case events.EventMemberJoined:
		var p dto.MemberJoinedDelivery
		if err := json.Unmarshal(delivery.Payload, &p); err != nil {
			return events.Event{}, err
		}
		event.Payload = events.MemberJoinedPayload{
			UserID:      domain.UserID(p.UserID),
			CommunityID: domain.CommunityID(p.CommunityID),
			Handle:      p.Handle,
		}
	case events.EventMemberLeft:
		var p dto.MemberLeftDelivery
		if err := json.Unmarshal(delivery.Payload, &p); err != nil {
			return events.Event{}, err
		}
		event.Payload = events.MemberLeftPayload{
			UserID:      domain.UserID(p.UserID),
			CommunityID: domain.CommunityID(p.CommunityID),
		}
	case events.EventMessageReceived:
		var p dto.MessageReceivedDelivery
		if err := json.Unmarshal(delivery.Payload, &p); err != nil {
			return events.Event{}, err
		}
		event.Payload = events.MessageReceivedPayload{
			AuthorID:    domain.UserID(p.AuthorID),
			CommunityID: domain.CommunityID(p.CommunityID),
			ChannelID:   p.ChannelID,
			ChannelName: p.ChannelName,
			MessageID:   p.MessageID,
			Text:        p.Text,
			Handle:      p.Handle,
		}
	default:
		return events.Event{}, fiber.NewError(http.StatusBadRequest, "unknown event type")
	}

	return event, nil
}
