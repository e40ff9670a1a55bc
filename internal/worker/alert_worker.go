package worker

import (
	"github.com/spec-kit/membership-bot/internal/service"
)

// StartAlertWorker registers operator alert handlers.
func StartAlertWorker(alertService *service.AlertService) {
	if alertService == nil {
		return
	}
	alertService.RegisterHandlers()
}
