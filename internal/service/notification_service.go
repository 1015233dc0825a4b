package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/user-management/internal/config"
	"github.com/spec-kit/user-management/internal/events"
)

// NotificationService handles emitting notifications for domain events.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventUserRegistered, n.handleUserRegistered)
	n.dispatcher.Subscribe(events.EventUserDeactivated, n.handleAccountStatus)
	n.dispatcher.Subscribe(events.EventUserActivated, n.handleAccountStatus)
	n.dispatcher.Subscribe(events.EventUserDeleted, n.handleAccountStatus)
	n.dispatcher.Subscribe(events.EventPasswordChanged, n.handlePasswordChanged)
	n.dispatcher.Subscribe(events.EventPasswordResetRequested, n.handlePasswordResetRequested)
	n.dispatcher.Subscribe(events.EventPasswordResetCompleted, n.handlePasswordChanged)
}

func (n *NotificationService) handleUserRegistered(ctx context.Context, event events.Event) error {
	n.logger.Info("UserRegistered", zap.String("user_id", event.UserID), zap.Any("payload", event.Payload))
	if payload, ok := event.Payload.(events.UserRegisteredPayload); ok {
		n.sendEmailNotificationStub(ctx, event, payload.Email)
	}
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleAccountStatus(ctx context.Context, event events.Event) error {
	n.logger.Info("AccountStatusChanged",
		zap.String("user_id", event.UserID),
		zap.String("event_type", string(event.Type)),
		zap.String("actor", event.Actor.Username))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handlePasswordChanged(ctx context.Context, event events.Event) error {
	n.logger.Info("PasswordChanged", zap.String("user_id", event.UserID), zap.String("event_type", string(event.Type)))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handlePasswordResetRequested(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.PasswordResetRequestedPayload)
	if !ok {
		return nil
	}
	n.logger.Info("PasswordResetRequested", zap.String("user_id", event.UserID), zap.Time("expires_at", payload.ExpiresAt))
	n.sendEmailNotificationStub(ctx, event, payload.Email)
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(_ context.Context, event events.Event, to string) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" || to == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("to", to),
		zap.String("user_id", event.UserID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhookNotificationStub(_ context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("user_id", event.UserID),
		zap.String("event_type", string(event.Type)))
}
