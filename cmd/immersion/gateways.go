package main

import (
	"context"

	"go.uber.org/zap"

	"immersion/notification"
)

// logEmailGateway stands in for a real email provider. Deployments plug
// their provider behind notification.EmailGateway; the default only logs so
// the pipeline stays observable without credentials.
type logEmailGateway struct {
	logger *zap.Logger
}

func (g logEmailGateway) SendEmail(ctx context.Context, n notification.Notification) error {
	g.logger.Info("email notification delivered",
		zap.String("notification_id", n.ID),
		zap.String("template", n.Template),
		zap.Strings("recipients", n.Recipients))
	return nil
}

type logSMSGateway struct {
	logger *zap.Logger
}

func (g logSMSGateway) SendSMS(ctx context.Context, n notification.Notification) error {
	g.logger.Info("sms notification delivered",
		zap.String("notification_id", n.ID),
		zap.String("template", n.Template),
		zap.Strings("recipients", n.Recipients))
	return nil
}
