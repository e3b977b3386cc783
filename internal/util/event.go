package util

import (
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// AsyncPublisher is the publishing half of nats.JetStreamContext.
type AsyncPublisher interface {
	PublishAsync(subject string, data []byte, opts ...nats.PubOpt) (nats.PubAckFuture, error)
}

// PublishEvent encodes data as JSON and hands it to JetStream without waiting
// for the ack. It stalls while the pending ack window is full.
func PublishEvent(js AsyncPublisher, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = js.PublishAsync(subject, payload)
	return err
}
