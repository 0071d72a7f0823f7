// Package bus holds the types shared by the broker client and the services
// consuming it.
package bus

// Event is one message received on a topic.
type Event struct {
	Topic   string
	Payload []byte
}
