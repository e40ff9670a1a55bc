package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/membership-bot/internal/config"
	"github.com/spec-kit/membership-bot/internal/events"
	"github.com/spec-kit/membership-bot/internal/observability"
	"github.com/spec-kit/membership-bot/internal/platform"
)

// AlertService surfaces workflow outcomes to operators: verification
// results at info level and persistence failures loudly, optionally
// into a designated operator channel.
type AlertService struct {
	dispatcher        events.Dispatcher
	gateway           platform.Gateway
	metrics           *observability.Metrics
	logger            *zap.Logger
	operatorChannelID string
}

// NewAlertService creates the service.
func NewAlertService(dispatcher events.Dispatcher, gateway platform.Gateway, metrics *observability.Metrics, logger *zap.Logger, cfg config.VerifyConfig) *AlertService {
	return &AlertService{
		dispatcher:        dispatcher,
		gateway:           gateway,
		metrics:           metrics,
		logger:            logger,
		operatorChannelID: cfg.OperatorChannelID,
	}
}

// RegisterHandlers subscribes to events.
func (a *AlertService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Subscribe(events.EventVerificationAccepted, a.handleAccepted)
	a.dispatcher.Subscribe(events.EventVerificationRejected, a.handleRejected)
	a.dispatcher.Subscribe(events.EventSessionAbandoned, a.handleAbandoned)
	a.dispatcher.Subscribe(events.EventPersistFailed, a.handlePersistFailed)
}

func (a *AlertService) handleAccepted(ctx context.Context, event events.Event) error {
	a.logger.Info("VerificationAccepted", zap.Any("payload", event.Payload))
	return nil
}

func (a *AlertService) handleRejected(ctx context.Context, event events.Event) error {
	a.logger.Info("VerificationRejected", zap.Any("payload", event.Payload))
	return nil
}

func (a *AlertService) handleAbandoned(ctx context.Context, event events.Event) error {
	a.logger.Info("SessionAbandoned", zap.Any("payload", event.Payload))
	return nil
}

// handlePersistFailed reports a registry that has diverged from the
// remote store. This must never be silent.
func (a *AlertService) handlePersistFailed(ctx context.Context, event events.Event) error {
	a.logger.Error("PersistFailed", zap.Any("payload", event.Payload))
	a.metrics.Inc(observability.CounterPersistFailures)

	if strings.TrimSpace(a.operatorChannelID) == "" || a.gateway == nil {
		return nil
	}
	payload, ok := event.Payload.(events.PersistFailedPayload)
	if !ok {
		return nil
	}
	if _, err := a.gateway.SendMessage(ctx, a.operatorChannelID,
		"registry persistence failed for "+payload.Path+": "+payload.Error); err != nil {
		a.logger.Warn("operator notice failed", zap.Error(err))
	}
	return nil
}
