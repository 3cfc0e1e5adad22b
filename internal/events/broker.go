package events

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Broker drivers
const (
	DriverNone  = "none"
	DriverAMQP  = "amqp"
	DriverKafka = "kafka"
)

// BrokerOptions selects and addresses the external event broker
type BrokerOptions struct {
	Driver       string
	AMQPURL      string
	AMQPExchange string
	KafkaBrokers []string
	KafkaTopic   string
}

// OpenBroker connects the configured broker. The returned close func is never nil.
func OpenBroker(opts BrokerOptions, log *logrus.Logger) (Publisher, func() error, error) {
	switch opts.Driver {
	case "", DriverNone:
		return Noop{}, func() error { return nil }, nil
	case DriverAMQP:
		p, err := NewAMQPPublisher(opts.AMQPURL, opts.AMQPExchange, log)
		if err != nil {
			return nil, func() error { return nil }, err
		}
		return p, p.Close, nil
	case DriverKafka:
		p := NewKafkaPublisher(opts.KafkaBrokers, opts.KafkaTopic)
		return p, p.Close, nil
	}
	return nil, func() error { return nil }, fmt.Errorf("unknown events driver %q", opts.Driver)
}
