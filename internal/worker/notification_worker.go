package worker

import (
	"context"

	"github.com/spec-kit/ticket-channel/internal/hub"
	"github.com/spec-kit/ticket-channel/internal/service"
)

// StartNotificationWorker registers notification handlers and runs the hub
// broadcast loop until ctx is done. The returned channel closes once the
// loop has stopped and every session was closed.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService, h *hub.Hub) <-chan struct{} {
	done := make(chan struct{})
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if h == nil {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		h.Run(ctx)
	}()
	return done
}
