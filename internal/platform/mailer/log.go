package mailer

import (
	"context"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

// LogTransport writes notifications to the log instead of sending them. Used in local runs.
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, to, subject, body string) error {
	requestctx.LoggerOr(ctx, t.logger).Info("notification mail",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)),
	)
	return nil
}
