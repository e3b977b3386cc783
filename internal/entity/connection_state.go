package entity

type ConnectionState string

const (
	ConnectionStateIdle        ConnectionState = "idle"
	ConnectionStateAuthorizing ConnectionState = "authorizing"
	ConnectionStateConnecting  ConnectionState = "connecting"
	ConnectionStateOpen        ConnectionState = "open"
	ConnectionStateStreaming   ConnectionState = "streaming"
	ConnectionStateRetrying    ConnectionState = "retrying"
	ConnectionStateClosing     ConnectionState = "closing"
	ConnectionStateFailed      ConnectionState = "failed"
)

type SubscriptionStatus struct {
	InstrumentKey InstrumentKey   `json:"instrument_key"`
	State         ConnectionState `json:"state"`
	Consumers     int             `json:"consumers"`
	Attempt       int             `json:"attempt"`
}
