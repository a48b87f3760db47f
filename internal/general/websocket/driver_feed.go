package websocket

import (
	"sync"

	"bus-tracker/internal/domain/geo"
	"bus-tracker/internal/ports"
)

// driverFeed adapts the frames of one driver socket to a ports.PositionSource.
type driverFeed struct {
	mu       sync.Mutex
	onSample func(geo.Position)
	onError  func(error)
}

var _ ports.PositionSource = (*driverFeed)(nil)

func (f *driverFeed) Watch(onSample func(geo.Position), onError func(error)) (stop func()) {
	f.mu.Lock()
	f.onSample, f.onError = onSample, onError
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		f.onSample, f.onError = nil, nil
		f.mu.Unlock()
	}
}

func (f *driverFeed) push(p geo.Position) {
	f.mu.Lock()
	cb := f.onSample
	f.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

func (f *driverFeed) fail(err error) {
	f.mu.Lock()
	cb := f.onError
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// watching reports whether a stream is still attached.
func (f *driverFeed) watching() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onSample != nil
}
