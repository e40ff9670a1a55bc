package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/membership-bot/internal/auth"
	"github.com/spec-kit/membership-bot/internal/domain"
	"github.com/spec-kit/membership-bot/internal/events"
	"github.com/spec-kit/membership-bot/internal/observability"
	"github.com/spec-kit/membership-bot/internal/platform"
	apperrors "github.com/spec-kit/membership-bot/pkg/util/errorutil"
)

type webhookFixture struct {
	app      *fiber.App
	token    string
	received []events.Event
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	f := &webhookFixture{}
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	for _, eventType := range []events.EventType{events.EventMemberJoined, events.EventMemberLeft, events.EventMessageReceived} {
		dispatcher.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
			f.received = append(f.received, event)
			return nil
		})
	}

	tokens := auth.NewTokenManager("test-secret", 60)
	token, _, err := tokens.GenerateToken("platform", auth.ScopeWebhook)
	require.NoError(t, err)
	f.token = token

	handler := NewWebhookHandler(dispatcher, platform.NewMemoryDeduper(time.Minute), observability.NewMetrics(), zap.NewNop())
	middleware := auth.NewAuthMiddleware(tokens)

	f.app = fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
		}
		domainErr := apperrors.ToDomainError(err)
		return c.Status(domainErr.HTTPStatus).JSON(fiber.Map{"error": domainErr.Message})
	}})
	group := f.app.Group("/webhook", middleware.Handle, auth.RequireScope(auth.ScopeWebhook))
	group.Post("/events", handler.HandleDelivery)
	return f
}

func (f *webhookFixture) post(t *testing.T, token string, body map[string]any) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/events", bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestDeliveryPublishesEvent(t *testing.T) {
	f := newWebhookFixture(t)

	resp := f.post(t, f.token, map[string]any{
		"delivery_id": "d-1",
		"type":        "member_joined",
		"payload":     map[string]any{"user_id": 42, "community_id": 7, "handle": "john#123"},
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Len(t, f.received, 1)
	assert.Equal(t, events.EventMemberJoined, f.received[0].Type)
	payload, ok := f.received[0].Payload.(events.MemberJoinedPayload)
	require.True(t, ok)
	assert.Equal(t, domain.UserID(42), payload.UserID)
	assert.Equal(t, domain.CommunityID(7), payload.CommunityID)
	assert.Equal(t, "john#123", payload.Handle)
}

func TestDuplicateDeliveryIgnored(t *testing.T) {
	f := newWebhookFixture(t)

	body := map[string]any{
		"delivery_id": "d-1",
		"type":        "member_left",
		"payload":     map[string]any{"user_id": 42, "community_id": 7},
	}

	resp := f.post(t, f.token, body)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = f.post(t, f.token, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Len(t, f.received, 1)
}

func TestDeliveryRequiresToken(t *testing.T) {
	f := newWebhookFixture(t)

	resp := f.post(t, "", map[string]any{"type": "member_left"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, f.received)
}

func TestDeliveryRejectsWrongScope(t *testing.T) {
	f := newWebhookFixture(t)

	tokens := auth.NewTokenManager("test-secret", 60)
	adminToken, _, err := tokens.GenerateToken("ops", auth.ScopeAdmin)
	require.NoError(t, err)

	resp := f.post(t, adminToken, map[string]any{"type": "member_left"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDeliveryUnknownType(t *testing.T) {
	f := newWebhookFixture(t)

	resp := f.post(t, f.token, map[string]any{
		"delivery_id": "d-9",
		"type":        "channel_renamed",
		"payload":     map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.received)
}
