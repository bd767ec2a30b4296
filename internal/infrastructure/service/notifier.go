package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/schoolhub/student-ledger/internal/application/eventhandler"
	"github.com/schoolhub/student-ledger/pkg/logger"
)

// LogNotifier writes notifications to the log. Used when no messaging
// collaborator is configured.
type LogNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log.With(logger.Component("notifier"))}
}

// Notify implements eventhandler.Notifier.
func (n *LogNotifier) Notify(_ context.Context, msg eventhandler.Notification) error {
	n.logger.Info("notification",
		logger.String("event_type", msg.EventType),
		logger.ChargeID(msg.ChargeID),
		logger.StudentID(msg.StudentID),
		logger.SchoolID(msg.SchoolID),
		logger.String("status", msg.Status),
	)
	return nil
}

// Publisher is the slice of a pub/sub client the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// PubSubNotifier publishes notifications as JSON on a channel the
// messaging collaborator listens to.
type PubSubNotifier struct {
	publisher Publisher
	channel   string
}

// NewPubSubNotifier creates a PubSubNotifier.
func NewPubSubNotifier(publisher Publisher, channel string) *PubSubNotifier {
	return &PubSubNotifier{publisher: publisher, channel: channel}
}

// Notify implements eventhandler.Notifier.
func (n *PubSubNotifier) Notify(ctx context.Context, msg eventhandler.Notification) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.publisher.Publish(ctx, n.channel, string(data)); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
