package core

// Frame is a raw serialized payload delivered to a subscriber.
type Frame []byte

// ConnID identifies one live client connection. It is transport-level and
// not a stable user identity; the durable identity is (username, room).
type ConnID string

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the coordinator.
type PublishResult struct {
	SentTo  int
	Dropped []ConnID
}
