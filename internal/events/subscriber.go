package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Subscriber streams events published by other processes into a local sink
type Subscriber interface {
	// Subscribe blocks until ctx is done or the subscription fails
	Subscribe(ctx context.Context, sink Publisher) error
}

// OpenSubscriber builds a subscriber for the configured broker. group names
// the Kafka consumer group and must be unique per process.
func OpenSubscriber(opts BrokerOptions, group string, log *logrus.Logger) (Subscriber, func() error, error) {
	switch opts.Driver {
	case DriverAMQP:
		return NewAMQPSubscriber(opts.AMQPURL, opts.AMQPExchange, log), func() error { return nil }, nil
	case DriverKafka:
		s := NewKafkaSubscriber(opts.KafkaBrokers, opts.KafkaTopic, group, log)
		return s, s.Close, nil
	}
	return nil, func() error { return nil }, fmt.Errorf("events driver %q cannot be subscribed to", opts.Driver)
}

// Relay keeps sub attached to sink until ctx is done, subscribing again after
// retry whenever the subscription fails
func Relay(ctx context.Context, sub Subscriber, sink Publisher, retry time.Duration, log *logrus.Logger) {
	for {
		err := sub.Subscribe(ctx, sink)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.WithError(err).Warn("event subscription failed, retrying")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func deliver(ctx context.Context, sink Publisher, body []byte, log *logrus.Logger) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		log.WithError(err).Warn("dropping undecodable event")
		return
	}
	if err := sink.Publish(ctx, e); err != nil {
		log.WithError(err).WithField("event_type", e.Type).Warn("failed to relay event")
	}
}
