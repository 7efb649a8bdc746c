package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Multi runs several adapters as one and routes sends by the target's platform.
type Multi struct {
	adapters []Adapter
	byName   map[string]Adapter

	once      sync.Once
	connected chan struct{}
}

func NewMulti(adapters ...Adapter) *Multi {
	m := &Multi{byName: map[string]Adapter{}, connected: make(chan struct{})}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		m.adapters = append(m.adapters, a)
		m.byName[a.Name()] = a
	}
	return m
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Len() int { return len(m.adapters) }

func (m *Multi) Adapters() []Adapter { return append([]Adapter(nil), m.adapters...) }

// Start starts every adapter. Connected closes once all of them are connected.
func (m *Multi) Start(ctx context.Context, out chan<- Update) error {
	for _, a := range m.adapters {
		if err := a.Start(ctx, out); err != nil {
			return fmt.Errorf("start %s: %w", a.Name(), err)
		}
	}
	m.once.Do(func() {
		go func() {
			for _, a := range m.adapters {
				select {
				case <-a.Connected():
				case <-ctx.Done():
					return
				}
			}
			close(m.connected)
		}()
	})
	return nil
}

func (m *Multi) Stop(ctx context.Context) error {
	var errs []error
	for i := len(m.adapters) - 1; i >= 0; i-- {
		if err := m.adapters[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", m.adapters[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Connected() <-chan struct{} { return m.connected }

// IsConnected reports without blocking.
func (m *Multi) IsConnected() bool {
	select {
	case <-m.connected:
		return true
	default:
		return false
	}
}

func (m *Multi) route(to Target) (Adapter, error) {
	if a, ok := m.byName[to.Platform()]; ok {
		return a, nil
	}
	if len(m.adapters) == 1 && to.Platform() == "" {
		return m.adapters[0], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, to)
}

func (m *Multi) SendText(ctx context.Context, to Target, text string) error {
	a, err := m.route(to)
	if err != nil {
		return err
	}
	return a.SendText(ctx, to, text)
}

func (m *Multi) SendPost(ctx context.Context, to Target, p Post) error {
	a, err := m.route(to)
	if err != nil {
		return err
	}
	return a.SendPost(ctx, to, p)
}
