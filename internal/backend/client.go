package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/events"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/link"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/telemetry"
)

// ErrLinkClosed is returned to callers waiting on a reply when the backend goes away
var ErrLinkClosed = errors.New("backend link closed")

// Metrics receives backend accounting; nil disables it
type Metrics interface {
	ProtocolError(link string)
}

// DeviceConnected is published when the backend confirms an opened device
type DeviceConnected struct {
	ID   string
	Side telemetry.Side
}

type listResult struct {
	ids []string
	err error
}

// Client speaks the backend's JSON command/event protocol over a Link.
// CoP events are handed to the router on the link's receive goroutine, so
// per-device ordering is the order frames arrived in.
type Client struct {
	link    *link.Link
	router  *telemetry.Router
	metrics Metrics
	logger  *log.Logger

	mu          sync.Mutex
	listWaiters []chan listResult

	deviceConnected *events.CallbackEvent[DeviceConnected]
	closed          *events.CallbackEvent[error]
}

func NewClient(l *link.Link, router *telemetry.Router, metrics Metrics, logger *log.Logger) *Client {
	if l == nil {
		panic("Backend: link cannot be nil")
	}
	if router == nil {
		panic("Backend: router cannot be nil")
	}
	if logger == nil {
		panic("Backend: logger cannot be nil")
	}
	return &Client{
		link:            l,
		router:          router,
		metrics:         metrics,
		logger:          logger,
		deviceConnected: events.NewCallbackEvent[DeviceConnected](false),
		closed:          events.NewCallbackEvent[error](false),
	}
}

// Link returns the underlying peer link
func (c *Client) Link() *link.Link { return c.link }

// Connected reports whether the backend link is up
func (c *Client) Connected() bool {
	return c.link.State() == link.StateConnected
}

// Connect dials the backend and starts the receive loop
func (c *Client) Connect(ctx context.Context, url string) error {
	if err := c.link.Connect(ctx, url); err != nil {
		return err
	}
	c.link.Start(c.onMessage, c.onClosed)
	return nil
}

// Close closes the link and waits for its receive loop
func (c *Client) Close() error {
	return c.link.Close()
}

// ListenToDeviceConnected registers a callback for device-connected events
func (c *Client) ListenToDeviceConnected(callback func(DeviceConnected)) func() {
	return c.deviceConnected.Listen(callback)
}

// ListenToClosed registers a callback for the end of the receive loop.
// The error is nil for an orderly close.
func (c *Client) ListenToClosed(callback func(error)) func() {
	return c.closed.Listen(callback)
}

// EnumeratePorts asks the backend for its serial ports and waits for the
// device-list reply
func (c *Client) EnumeratePorts(ctx context.Context) ([]string, error) {
	waiter := make(chan listResult, 1)
	c.mu.Lock()
	c.listWaiters = append(c.listWaiters, waiter)
	c.mu.Unlock()

	if err := c.send(Command{Command: CmdEnumeratePorts}); err != nil {
		c.dropWaiter(waiter)
		return nil, err
	}

	select {
	case res := <-waiter:
		return res.ids, res.err
	case <-ctx.Done():
		c.dropWaiter(waiter)
		return nil, fmt.Errorf("waiting for device list: %w", ctx.Err())
	}
}

// Open asks the backend to open the given devices
func (c *Client) Open(ids ...string) error {
	if len(ids) == 0 {
		return errors.New("backend: open needs at least one device id")
	}
	return c.send(Command{Command: CmdOpen, IDs: ids})
}

// Calibrate asks the backend to calibrate the open devices
func (c *Client) Calibrate() error {
	return c.send(Command{Command: CmdCalibrate})
}

// StopStream asks the backend to stop streaming CoP events
func (c *Client) StopStream() error {
	return c.send(Command{Command: CmdStopStream})
}

func (c *Client) send(cmd Command) error {
	raw, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if err := c.link.Send(string(raw)); err != nil {
		return fmt.Errorf("backend %s: %w", cmd.Command, err)
	}
	return nil
}

func (c *Client) onMessage(msg string) {
	if err := c.handleMessage(msg); err != nil {
		c.logger.Printf("Backend: Dropping frame: %v", err)
		if c.metrics != nil {
			c.metrics.ProtocolError(c.link.Name())
		}
	}
}

// handleMessage dispatches one frame. Errors are protocol errors for the caller to report.
func (c *Client) handleMessage(msg string) error {
	ev, err := DecodeEvent([]byte(msg))
	if err != nil {
		return err
	}

	switch ev.Name {
	case EvtDeviceList:
		c.logger.Printf("Backend: Device list %v", ev.IDs)
		c.resolveWaiters(listResult{ids: ev.IDs})
	case EvtDeviceConnected:
		c.router.RegisterDevice(ev.ID, ev.Side)
		c.deviceConnected.Notify(DeviceConnected{ID: ev.ID, Side: ev.Side})
	case EvtCoPSample:
		// Rejections are logged and counted by the router
		_ = c.router.OnDeviceEvent(ev.DeviceID, ev.Sample)
	}
	return nil
}

func (c *Client) onClosed(err error) {
	if err != nil {
		c.logger.Printf("Backend: Link lost: %v", err)
	}
	c.router.MarkAllDisconnected()
	c.resolveWaiters(listResult{err: ErrLinkClosed})
	c.closed.Notify(err)
}

func (c *Client) resolveWaiters(res listResult) {
	c.mu.Lock()
	waiters := c.listWaiters
	c.listWaiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		w <- res
	}
}

func (c *Client) dropWaiter(waiter chan listResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.listWaiters {
		if w == waiter {
			c.listWaiters = append(c.listWaiters[:i], c.listWaiters[i+1:]...)
			return
		}
	}
}
