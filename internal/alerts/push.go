package alerts

import (
	"context"
	"fmt"

	"github.com/coldvault/fenixcore/internal/notifications"
)

// PushAlerter adapts the mobile push-notification service into an Alerter
// channel, so risk-mode transitions and critical alerts reach the same
// devices a user registered for trade-execution pushes.
type PushAlerter struct {
	service *notifications.NotificationService
	userID  string
}

// NewPushAlerter builds a PushAlerter that sends to the given user's
// registered devices.
func NewPushAlerter(service *notifications.NotificationService, userID string) *PushAlerter {
	return &PushAlerter{service: service, userID: userID}
}

// Send maps an Alert onto a push Notification and delivers it. Severity
// below SeverityWarning is sent at normal priority; warning and above at
// high priority.
func (p *PushAlerter) Send(ctx context.Context, alert Alert) error {
	priority := "normal"
	if alert.Severity == SeverityWarning || alert.Severity == SeverityCritical {
		priority = "high"
	}

	data := make(map[string]string, len(alert.Metadata))
	for k, v := range alert.Metadata {
		data[k] = fmt.Sprintf("%v", v)
	}

	n := notifications.Notification{
		Type:     notifications.NotificationTypeCircuitBreaker,
		Title:    alert.Title,
		Body:     alert.Message,
		Data:     data,
		Priority: priority,
	}

	return p.service.SendToUser(ctx, p.userID, n)
}
