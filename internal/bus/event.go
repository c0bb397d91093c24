package bus

import "time"

// Event is a domain event published on the bus. Kind is a dot-separated
// name whose leading segment forms the namespace, e.g. "message.upserted".
type Event struct {
	Kind    string
	At      time.Time
	Payload any
}
