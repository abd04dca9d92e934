// Package event provides typed in-process pub/sub used for pool health
// transitions and allocation notifications. Each payload type gets its own
// queue; listeners receive events in publish order.
package event

import (
	"reflect"
	"sync"

	"github.com/viant/taskpool/service/messaging/memory"
)

// Service is a registry of typed publishers and listeners.
type Service struct {
	typedPublishers map[reflect.Type]any
	typedListener   map[reflect.Type]any
	mux             *sync.RWMutex
	newQueueConfig  func() memory.Config
}

// New creates a new event service.
func New(opts ...Option) *Service {
	ret := &Service{
		typedPublishers: make(map[reflect.Type]any),
		typedListener:   make(map[reflect.Type]any),
		mux:             &sync.RWMutex{},
		newQueueConfig:  memory.DefaultConfig,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func keyOf[T any]() reflect.Type {
	var t T
	rType := reflect.TypeOf(t)
	if rType != nil && rType.Kind() == reflect.Ptr {
		rType = rType.Elem()
	}
	return rType
}

// SetListenerOf registers a handler for events of type T, replacing and
// stopping any previous listener for that type.
func SetListenerOf[T any](s *Service, handler func(*Event[T])) error {
	key := keyOf[T]()
	s.mux.RLock()
	ret, ok := s.typedListener[key]
	s.mux.RUnlock()
	if ok {
		ret.(*Listener[T]).Stop()
	}
	publisher, err := PublisherOf[T](s)
	if err != nil {
		return err
	}
	listener := NewListener[T](publisher, handler)
	s.mux.Lock()
	s.typedListener[key] = listener
	listener.Start()
	s.mux.Unlock()
	return nil
}

// PublisherOf returns the publisher for the provided type, creating it on
// first use.
func PublisherOf[T any](s *Service) (*Publisher[T], error) {
	key := keyOf[T]()
	s.mux.RLock()
	ret, ok := s.typedPublishers[key]
	s.mux.RUnlock()
	if !ok {
		queue := memory.NewQueue[Event[T]](s.newQueueConfig())
		publisher := NewPublisher[T](queue)
		s.mux.Lock()
		s.typedPublishers[key] = publisher
		s.mux.Unlock()
		return publisher, nil
	}
	return ret.(*Publisher[T]), nil
}

// Shutdown stops all registered listeners. Safe to call more than once.
func (s *Service) Shutdown() {
	s.mux.Lock()
	defer s.mux.Unlock()
	for _, l := range s.typedListener {
		if stopper, ok := l.(interface{ Stop() }); ok {
			stopper.Stop()
		}
	}
}
