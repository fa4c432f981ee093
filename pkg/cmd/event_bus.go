package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Bojackxiang/n8n-demo/pkg/channels/gochannel"
	"github.com/Bojackxiang/n8n-demo/pkg/channels/kafka"
	"github.com/Bojackxiang/n8n-demo/pkg/eventbus"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	EventBusGoChannel = "gochannel"
	EventBusKafka     = "kafka"
)

// NewEventBus connects the event bus transport named by provider. brokers is
// only read for kafka.
func NewEventBus(provider string, brokers []string, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)

	switch provider {
	case EventBusGoChannel, "":
		pub, sub, err = gochannel.CreateChannel(wmLogger)
	case EventBusKafka:
		pub, sub, err = kafka.CreateChannel(wmLogger, brokers, serviceName)
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s pub/sub: %w", provider, err)
	}

	return eventbus.NewWatermillEventBus(pub, sub), nil
}

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(raw string) []string {
	var brokers []string

	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}

	return brokers
}
