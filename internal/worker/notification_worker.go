package worker

import (
	"go.uber.org/zap"

	"github.com/spec-kit/user-management/internal/service"
)

// StartNotificationWorker registers notification handlers on the dispatcher.
// Handlers run synchronously inside Publish, so there is no goroutine to stop.
func StartNotificationWorker(notificationService *service.NotificationService, logger *zap.Logger) {
	if notificationService == nil {
		logger.Warn("notification service not configured; user events will not be delivered")
		return
	}
	notificationService.RegisterHandlers()
	logger.Info("notification handlers registered")
}
