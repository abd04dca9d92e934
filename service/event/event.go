package event

import "time"

// Context identifies where an event originated.
type Context struct {
	Component string `json:"component"`
	Operation string `json:"operation"`
	EventType string `json:"eventType"`
}

// Event is a typed notification published by a component owner.
type Event[T any] struct {
	Context   *Context               `json:"context"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata"`
	Data      T                      `json:"data"`
}

// NewEvent creates a new event with the supplied context and payload.
func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]interface{}),
		Data:      data,
	}
}
