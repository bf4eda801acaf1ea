package domain

import "context"

// Delivery is one raw uplink document read from a message transport, with
// the position needed to acknowledge it.
type Delivery struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp string

	// Commit acknowledges the delivery. Nil for transports without
	// explicit acknowledgment.
	Commit func(ctx context.Context) error
}
