package event

import "time"

// Event is implemented by values that carry a type tag and an occurrence
// time. Buses use the type for filtering and metrics labels.
type Event interface {
	Type() string
	Timestamp() time.Time
}
