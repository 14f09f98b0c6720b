package telemetry

import (
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/events"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/link"
)

// RouterMetrics receives per-sample accounting; nil disables it
type RouterMetrics interface {
	SampleRouted(deviceID string)
	SampleRejected(deviceID string)
}

// Router validates per-device CoP events, keeps the latest sample per device
// and fans valid samples out to the subscribers registered for that device.
// Delivery is synchronous on the caller's goroutine, so samples from one device
// reach subscribers in the order OnDeviceEvent was called.
type Router struct {
	logger  *log.Logger
	clock   clock.Clock
	metrics RouterMetrics

	mu      sync.RWMutex
	devices map[string]*Device

	subscribers *events.KeyedEvent[string, Reading]
	rejected    *events.CallbackEvent[Rejection]
}

// Rejection describes a sample dropped by validation
type Rejection struct {
	DeviceID string
	Err      error
}

func NewRouter(clk clock.Clock, metrics RouterMetrics, logger *log.Logger) *Router {
	if clk == nil {
		panic("Router: clock cannot be nil")
	}
	if logger == nil {
		panic("Router: logger cannot be nil")
	}
	return &Router{
		logger:      logger,
		clock:       clk,
		metrics:     metrics,
		devices:     make(map[string]*Device),
		subscribers: events.NewKeyedEvent[string, Reading](),
		rejected:    events.NewCallbackEvent[Rejection](false),
	}
}

// RegisterDevice records a connected device and the foot it is worn on.
// Re-registering updates the side and keeps the cached sample.
func (r *Router) RegisterDevice(id string, side Side) {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		d = &Device{ID: id}
		r.devices[id] = d
	}
	if side != SideUnknown {
		d.Side = side
	}
	d.Connected = true
	r.mu.Unlock()
	r.logger.Printf("Router: Device %s registered (%s)", id, side)
}

// Forget drops every cached device. Subscriptions are left alone.
func (r *Router) Forget() {
	r.mu.Lock()
	r.devices = make(map[string]*Device)
	r.mu.Unlock()
}

// MarkAllDisconnected flags every cached device as disconnected
func (r *Router) MarkAllDisconnected() {
	r.mu.Lock()
	for _, d := range r.devices {
		d.Connected = false
	}
	r.mu.Unlock()
}

// Subscribe registers callback for readings from deviceID and returns the unsubscribe function
func (r *Router) Subscribe(deviceID string, callback func(Reading)) func() {
	return r.subscribers.Subscribe(deviceID, callback)
}

// ListenToRejected registers a callback for dropped samples. It runs on the
// goroutine that delivered the sample.
func (r *Router) ListenToRejected(callback func(Rejection)) func() {
	return r.rejected.Listen(callback)
}

// SubscriberCount returns the number of subscribers for deviceID
func (r *Router) SubscriberCount(deviceID string) int {
	return r.subscribers.SubscriberCount(deviceID)
}

// OnDeviceEvent handles one CoP event from the backend. Invalid samples are
// logged, counted, announced to ListenToRejected and dropped without touching
// the cache. The validation error is also returned.
func (r *Router) OnDeviceEvent(deviceID string, sample CoPSample) error {
	if err := sample.Validate(); err != nil {
		r.logger.Printf("Router: Rejected sample from %s: %v", deviceID, err)
		if r.metrics != nil {
			r.metrics.SampleRejected(deviceID)
		}
		r.rejected.Notify(Rejection{DeviceID: deviceID, Err: err})
		return err
	}

	now := r.clock.Now()
	r.mu.Lock()
	d, ok := r.devices[deviceID]
	if !ok {
		d = &Device{ID: deviceID, Connected: true}
		r.devices[deviceID] = d
	}
	d.Latest = sample
	d.HasSample = true
	d.UpdatedAt = now
	side := d.Side
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SampleRouted(deviceID)
	}
	r.subscribers.Publish(deviceID, Reading{DeviceID: deviceID, Side: side, Sample: sample, At: now})
	return nil
}

// Device returns the cached view of one device
func (r *Router) Device(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// Devices returns the cached devices ordered by id
func (r *Router) Devices() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sender is the part of a link the headset forwarder needs
type Sender interface {
	Send(text string) error
}

// HeadsetForwarder writes readings to the headset link as JSON frames.
// Forwarding is best effort: failures are logged and never retried.
type HeadsetForwarder struct {
	sender Sender
	logger *log.Logger

	mu            sync.Mutex
	warnedOffline bool
	failures      uint64
}

func NewHeadsetForwarder(sender Sender, logger *log.Logger) *HeadsetForwarder {
	if sender == nil {
		panic("HeadsetForwarder: sender cannot be nil")
	}
	if logger == nil {
		panic("HeadsetForwarder: logger cannot be nil")
	}
	return &HeadsetForwarder{sender: sender, logger: logger}
}

// Forward sends one reading; it is safe to use directly as a router subscriber
func (f *HeadsetForwarder) Forward(r Reading) {
	raw, err := EncodeHeadsetFrame(r.Sample)
	if err != nil {
		f.logger.Printf("HeadsetForwarder: %v", err)
		return
	}

	err = f.sender.Send(string(raw))

	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case err == nil:
		f.warnedOffline = false
	case errors.Is(err, link.ErrNotConnected):
		// Headset not attached; say so once per outage.
		if !f.warnedOffline {
			f.logger.Printf("HeadsetForwarder: Headset not connected, dropping frames")
			f.warnedOffline = true
		}
	default:
		f.failures++
		f.logger.Printf("HeadsetForwarder: Send failed for %s: %v", r.DeviceID, err)
	}
}

// Failures returns the number of failed sends (not counting offline drops)
func (f *HeadsetForwarder) Failures() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures
}
