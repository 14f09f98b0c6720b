package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/backend"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/engine"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/events"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/link"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/telemetry"
)

// Backend is the part of the backend client the controller drives
type Backend interface {
	Connected() bool
	Connect(ctx context.Context, url string) error
	EnumeratePorts(ctx context.Context) ([]string, error)
	Open(ids ...string) error
	Calibrate() error
	StopStream() error
	Close() error
	ListenToDeviceConnected(callback func(backend.DeviceConnected)) func()
	ListenToClosed(callback func(error)) func()
}

// Peer is a front-end or headset link
type Peer interface {
	Name() string
	State() link.State
	Address() string
	Connect(ctx context.Context, address string) error
	Start(onMessage func(string), onClosed func(error))
	Send(text string) error
	Close() error
}

// Config holds the controller's addresses and timeouts
type Config struct {
	BackendURL       string
	FrontendAddress  string
	HeadsetAddress   string
	DialTimeout      time.Duration
	EnumerateTimeout time.Duration
	// SelectionTimeout bounds the wait for the front end's port selection; 0 waits until cancelled
	SelectionTimeout time.Duration
}

// pendingSelection is an in-flight connect waiting for the front end
type pendingSelection struct {
	offered []string
	ch      chan string
	ctx     context.Context
	cancel  context.CancelCauseFunc
}

var (
	errFrontendClosed   = errors.New("front end disconnected")
	errSelectionTimeout = errors.New("no port selection received")
)

// Controller turns operator and front-end commands into actions on the links
// and the engine. Commands run one at a time; the wait for a port selection
// happens off the command lock so stop and exit are never held up by it.
type Controller struct {
	cfg       Config
	backend   Backend
	frontend  Peer
	headset   Peer
	router    *telemetry.Router
	engine    *engine.Engine
	forwarder *telemetry.HeadsetForwarder
	logger    *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// cmdMu serializes command handlers
	cmdMu   sync.Mutex
	hmdMenu bool
	closing bool

	// subMu guards the router subscriptions. The engine's are also dropped
	// from the engine goroutine once the program completes.
	subMu       sync.Mutex
	engineSubs  []func()
	forwardSubs []func()

	// stateMu guards what Status reports; written only while cmdMu is held
	stateMu    sync.RWMutex
	selected   []string
	calibrated bool

	selMu   sync.Mutex
	pending *pendingSelection

	// rejectMu guards the devices whose dropped samples were already reported
	rejectMu sync.Mutex
	rejected map[string]bool

	output       *events.CallbackEvent[string]
	unlisten     []func()
	done         chan struct{}
	exitOnce     sync.Once
	shutdownOnce sync.Once
}

// NewController wires the controller to its collaborators. It owns the links
// and the engine from here on and releases them in Shutdown.
func NewController(cfg Config, be Backend, frontend, headset Peer, router *telemetry.Router, eng *engine.Engine, logger *log.Logger) *Controller {
	if be == nil {
		panic("Controller: backend cannot be nil")
	}
	if frontend == nil {
		panic("Controller: frontend cannot be nil")
	}
	if headset == nil {
		panic("Controller: headset cannot be nil")
	}
	if router == nil {
		panic("Controller: router cannot be nil")
	}
	if eng == nil {
		panic("Controller: engine cannot be nil")
	}
	if logger == nil {
		panic("Controller: logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:       cfg,
		backend:   be,
		frontend:  frontend,
		headset:   headset,
		router:    router,
		engine:    eng,
		forwarder: telemetry.NewHeadsetForwarder(headset, logger),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		output:    events.NewCallbackEvent[string](false),
		rejected:  make(map[string]bool),
		done:      make(chan struct{}),
	}

	c.unlisten = append(c.unlisten,
		eng.ListenToEvents(c.onEngineEvent),
		router.ListenToRejected(c.onSampleRejected),
		be.ListenToDeviceConnected(func(d backend.DeviceConnected) {
			c.say("Device %s connected (%s)", d.ID, d.Side)
		}),
		be.ListenToClosed(func(err error) {
			if err != nil {
				c.say("Backend disconnected: %v", err)
			} else {
				c.say("Backend disconnected")
			}
		}),
	)
	return c
}

// ListenToOutput registers a callback for operator-facing messages.
// Callbacks may run on any goroutine and must not block.
func (c *Controller) ListenToOutput(callback func(string)) func() {
	return c.output.Listen(callback)
}

// Done is closed once exit has been requested
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Startup connects the backend and, if autoFrontend is set, the front end.
// Failures are reported and left for the operator to retry with connect/gui.
func (c *Controller) Startup(ctx context.Context, autoFrontend bool) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.closing {
		return
	}
	if err := c.ensureBackend(ctx); err != nil {
		c.report(newError(KindConnection, "startup", err))
	}
	if autoFrontend {
		if err := c.ensureFrontend(ctx); err != nil {
			c.report(newError(KindConnection, "startup", err))
		}
	}
}

// Dispatch parses text as a command and executes it. Unknown text is
// reported along with the valid vocabulary.
func (c *Controller) Dispatch(ctx context.Context, text string) error {
	cmd, ok := ParseCommand(text)
	if !ok {
		err := newError(KindProtocol, "dispatch", fmt.Errorf("%w %q", ErrUnknownCommand, strings.TrimSpace(text)))
		c.report(err)
		c.say("Valid commands: %s", Vocabulary)
		return err
	}
	return c.Execute(ctx, cmd)
}

// Execute runs one command. Failures are reported to the operator and
// returned; none of them ends the process.
func (c *Controller) Execute(ctx context.Context, cmd Command) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.closing {
		return newError(KindState, cmd.String(), ErrShuttingDown)
	}

	var err error
	switch cmd {
	case CmdConnect:
		err = c.connect(ctx)
	case CmdCalibrate:
		err = c.calibrate()
	case CmdStart:
		err = c.start()
	case CmdStop:
		c.stop()
	case CmdHMD:
		c.hmdMenu = true
		c.say("%s", hmdMenu)
	case CmdHeadsetConnect:
		err = c.connectHeadset(ctx)
	case CmdHeadsetDisconnect:
		c.disconnectHeadset()
	case CmdHMDExit:
		if !c.hmdMenu {
			err = newError(KindProtocol, cmd.String(), fmt.Errorf("%w: 3 is only valid in the HMD menu", ErrUnknownCommand))
			break
		}
		c.hmdMenu = false
		c.say("Closed HMD menu")
	case CmdStatus:
		for _, line := range c.Status().Lines() {
			c.say("%s", line)
		}
	case CmdGUI:
		if err = c.ensureFrontend(ctx); err != nil {
			err = newError(KindConnection, cmd.String(), err)
		} else {
			c.say("Front end connected at %s", c.frontend.Address())
		}
	case CmdHelp:
		c.say("%s", helpText)
	case CmdExit:
		c.say("Exiting...")
		c.requestExit()
	default:
		err = newError(KindProtocol, "dispatch", ErrUnknownCommand)
	}

	if err != nil {
		c.report(err)
	}
	return err
}

// --- Commands (cmdMu held) ---

func (c *Controller) connect(ctx context.Context) error {
	const op = "connect"
	if c.sessionActive() {
		return newError(KindState, op, errors.New("stop the running session before reconnecting"))
	}
	if c.awaitingSelection() {
		return newError(KindState, op, ErrConnectInProgress)
	}

	if err := c.ensureBackend(ctx); err != nil {
		return newError(KindConnection, op, err)
	}
	if err := c.ensureFrontend(ctx); err != nil {
		return newError(KindConnection, op, err)
	}

	ectx, cancel := withTimeout(ctx, c.cfg.EnumerateTimeout)
	ids, err := c.backend.EnumeratePorts(ectx)
	cancel()
	if err != nil {
		return newError(KindConnection, op, err)
	}
	if len(ids) < 2 {
		return newError(KindProtocol, op, fmt.Errorf("%w: %v", ErrTooFewPorts, ids))
	}

	// Register before sending so a fast reply cannot be missed
	p := c.beginSelection(ids)
	if err := c.frontend.Send(strings.Join(ids, ",")); err != nil {
		c.endSelection(p, err)
		return newError(KindConnection, op, err)
	}

	go_func_utils.SafeGoWG(c.logger, &c.wg, func() { c.awaitSelection(p) })
	c.say("Available ports: %s. Waiting for selection on the front end...", strings.Join(ids, ", "))
	return nil
}

func (c *Controller) calibrate() error {
	const op = "calibrate"
	selected, calibrated := c.connection()
	if len(selected) == 0 {
		return newError(KindState, op, ErrNotConnected)
	}
	if calibrated {
		c.say("Already calibrated")
		return nil
	}
	if err := c.backend.Calibrate(); err != nil {
		return newError(KindConnection, op, err)
	}
	if _, err := c.engine.MarkCalibrated(); err != nil {
		return newError(KindState, op, err)
	}

	c.stateMu.Lock()
	c.calibrated = true
	c.stateMu.Unlock()
	c.say("Calibrated %s", strings.Join(selected, " and "))
	return nil
}

func (c *Controller) start() error {
	const op = "start"
	selected, calibrated := c.connection()
	if len(selected) == 0 {
		return newError(KindState, op, ErrNotConnected)
	}
	if !calibrated {
		return newError(KindState, op, ErrNotCalibrated)
	}
	if _, ok := c.engine.Program().Get(1); !ok {
		return newError(KindState, op, ErrNoProgram)
	}
	if err := c.engine.Start(1); err != nil {
		return newError(KindState, op, err)
	}

	c.subscribe(selected)
	c.logger.Printf("Session: Program started on %s", strings.Join(selected, ", "))
	return nil
}

// stop is idempotent; with nothing running it only says so
func (c *Controller) stop() {
	stopped := c.engine.Stop()
	subscribed := c.unsubscribeAll()
	if !stopped && !subscribed {
		c.say("No session is running")
	}
}

func (c *Controller) connectHeadset(ctx context.Context) error {
	if c.headset.State() != link.StateDisconnected {
		c.say("Already connected to HMD")
		return nil
	}
	dctx, cancel := withTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	if err := c.headset.Connect(dctx, c.cfg.HeadsetAddress); err != nil {
		return newError(KindConnection, "hmd connect", err)
	}
	c.headset.Start(
		func(msg string) { c.logger.Printf("Session: Headset says %q", msg) },
		func(err error) {
			if err != nil {
				c.say("HMD connection lost: %v", err)
			} else {
				c.say("HMD disconnected")
			}
		},
	)
	c.say("Connected to HMD at %s", c.headset.Address())
	return nil
}

func (c *Controller) disconnectHeadset() {
	if c.headset.State() == link.StateDisconnected {
		c.say("HMD is not connected")
		return
	}
	if err := c.headset.Close(); err != nil {
		c.logger.Printf("Session: Closing HMD link: %v", err)
	}
}

// --- Connection helpers (cmdMu held) ---

func (c *Controller) ensureBackend(ctx context.Context) error {
	if c.backend.Connected() {
		return nil
	}
	dctx, cancel := withTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	return c.backend.Connect(dctx, c.cfg.BackendURL)
}

func (c *Controller) ensureFrontend(ctx context.Context) error {
	if c.frontend.State() == link.StateConnected {
		return nil
	}
	dctx, cancel := withTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	if err := c.frontend.Connect(dctx, c.cfg.FrontendAddress); err != nil {
		return err
	}
	c.frontend.Start(c.onFrontendMessage, c.onFrontendClosed)
	return nil
}

func (c *Controller) sessionActive() bool {
	return c.engine.Snapshot().State.Active()
}

// subscribe attaches the engine and the headset forwarder to ids, skipping
// whichever is still attached from an earlier run
func (c *Controller) subscribe(ids []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.engineSubs == nil {
		for _, id := range ids {
			c.engineSubs = append(c.engineSubs, c.router.Subscribe(id, c.engine.OnSample))
		}
	}
	if c.forwardSubs == nil {
		for _, id := range ids {
			c.forwardSubs = append(c.forwardSubs, c.router.Subscribe(id, c.forwarder.Forward))
		}
	}
}

// releaseEngine detaches the engine but leaves the headset visualization running
func (c *Controller) releaseEngine() {
	c.subMu.Lock()
	subs := c.engineSubs
	c.engineSubs = nil
	c.subMu.Unlock()
	for _, unsubscribe := range subs {
		unsubscribe()
	}
}

// unsubscribeAll reports whether anything was subscribed
func (c *Controller) unsubscribeAll() bool {
	c.subMu.Lock()
	subs := append(c.engineSubs, c.forwardSubs...)
	c.engineSubs, c.forwardSubs = nil, nil
	c.subMu.Unlock()
	for _, unsubscribe := range subs {
		unsubscribe()
	}
	return len(subs) > 0
}

func (c *Controller) connection() ([]string, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return append([]string(nil), c.selected...), c.calibrated
}

// --- Port selection ---

func (c *Controller) beginSelection(offered []string) *pendingSelection {
	ctx, cancel := context.WithCancelCause(c.ctx)
	p := &pendingSelection{
		offered: offered,
		ch:      make(chan string, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.selMu.Lock()
	c.pending = p
	c.selMu.Unlock()
	return p
}

// endSelection retires p; a nil cause cancels with context.Canceled
func (c *Controller) endSelection(p *pendingSelection, cause error) {
	c.selMu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.selMu.Unlock()
	p.cancel(cause)
}

func (c *Controller) awaitingSelection() bool {
	c.selMu.Lock()
	defer c.selMu.Unlock()
	return c.pending != nil
}

// deliverSelection hands text to a waiting connect and reports whether one was waiting
func (c *Controller) deliverSelection(text string) bool {
	c.selMu.Lock()
	defer c.selMu.Unlock()
	if c.pending == nil {
		return false
	}
	select {
	case c.pending.ch <- text:
	default:
		c.logger.Printf("Session: Selection already received, ignoring %q", text)
	}
	return true
}

func (c *Controller) cancelSelection(cause error) {
	c.selMu.Lock()
	p := c.pending
	c.selMu.Unlock()
	if p != nil {
		p.cancel(cause)
	}
}

func (c *Controller) awaitSelection(p *pendingSelection) {
	ctx := p.ctx
	if c.cfg.SelectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, c.cfg.SelectionTimeout,
			fmt.Errorf("%w within %v", errSelectionTimeout, c.cfg.SelectionTimeout))
		defer cancel()
	}

	var text string
	select {
	case text = <-p.ch:
		c.endSelection(p, nil)
	case <-ctx.Done():
		cause := context.Cause(ctx)
		c.endSelection(p, cause)
		if c.ctx.Err() != nil {
			c.logger.Printf("Session: Connect abandoned, shutting down")
			return
		}
		kind := KindProtocol
		if errors.Is(cause, errFrontendClosed) {
			kind = KindConnection
		}
		c.report(newError(kind, "connect", cause))
		return
	}

	sel, err := ParseSelection(text, p.offered)
	if err != nil {
		c.report(newError(KindProtocol, "connect", err))
		return
	}
	if len(sel.Extra) > 0 {
		c.logger.Printf("Session: Ignoring extra selected ports %v", sel.Extra)
	}
	c.finishConnect(sel)
}

// finishConnect opens the selected pair. The first port is the left insole
// unless the backend says otherwise when it confirms the device.
func (c *Controller) finishConnect(sel Selection) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	const op = "connect"
	if c.closing {
		return
	}
	if c.sessionActive() {
		c.report(newError(KindState, op, errors.New("a session started while waiting for the selection")))
		return
	}

	// The previous pair may still be visualized after a completed program
	c.unsubscribeAll()
	c.rejectMu.Lock()
	c.rejected = make(map[string]bool)
	c.rejectMu.Unlock()

	c.router.Forget()
	c.router.RegisterDevice(sel.Left, telemetry.SideLeft)
	c.router.RegisterDevice(sel.Right, telemetry.SideRight)
	if err := c.engine.ResetCalibration(); err != nil {
		c.logger.Printf("Session: Resetting calibration: %v", err)
	}

	err := c.backend.Open(sel.Left, sel.Right)

	c.stateMu.Lock()
	c.calibrated = false
	c.selected = nil
	if err == nil {
		c.selected = []string{sel.Left, sel.Right}
	}
	c.stateMu.Unlock()

	if err != nil {
		c.router.MarkAllDisconnected()
		c.report(newError(KindConnection, op, err))
		return
	}
	c.say("Opening %s (left) and %s (right)", sel.Left, sel.Right)
}

// --- Link callbacks ---

// onFrontendMessage runs on the front end's receive loop. A command word is
// dispatched; anything else is taken as a port selection if one is awaited.
func (c *Controller) onFrontendMessage(msg string) {
	text := strings.TrimSpace(msg)
	if text == "" {
		return
	}
	if cmd, ok := ParseCommand(text); ok {
		c.logger.Printf("Session: Front end sent %s", cmd)
		_ = c.Execute(c.ctx, cmd)
		return
	}
	if c.deliverSelection(text) {
		return
	}
	c.logger.Printf("Session: Unrecognized message from front end: %q", text)
}

func (c *Controller) onFrontendClosed(err error) {
	if err != nil {
		c.say("Front end connection lost: %v", err)
	} else {
		c.say("Front end disconnected")
	}
	c.cancelSelection(errFrontendClosed)
}

// onEngineEvent runs on the engine goroutine
func (c *Controller) onEngineEvent(ev engine.Event) {
	if ev.Kind == engine.EventProgramCompleted {
		c.releaseEngine()
	}
	msg := ev.Message()
	c.say("%s", msg)
	if err := c.frontend.Send("status:" + msg); err != nil && !errors.Is(err, link.ErrNotConnected) {
		c.logger.Printf("Session: Forwarding status to front end: %v", err)
	}
}

// onSampleRejected runs on the backend's receive loop. Only the first
// rejection per device since the last connect reaches the operator.
func (c *Controller) onSampleRejected(rj telemetry.Rejection) {
	c.rejectMu.Lock()
	seen := c.rejected[rj.DeviceID]
	c.rejected[rj.DeviceID] = true
	c.rejectMu.Unlock()
	if seen {
		return
	}

	source := rj.DeviceID
	if d, ok := c.router.Device(rj.DeviceID); ok && d.Side != telemetry.SideUnknown {
		source = fmt.Sprintf("%s (%s)", d.ID, d.Side)
	}
	c.report(newError(KindValidation, "telemetry", fmt.Errorf("dropping samples from %s: %w", source, rj.Err)))
}

// --- Output ---

func (c *Controller) say(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.logger.Printf("Session: %s", msg)
	c.output.Notify(msg)
}

func (c *Controller) report(err error) {
	c.logger.Printf("Session: %v", err)
	c.output.Notify("Error: " + err.Error())
}

func (c *Controller) requestExit() {
	c.exitOnce.Do(func() { close(c.done) })
}

// Shutdown stops any session, tells the backend to stop streaming, closes
// all three links and waits for every loop the controller started.
// Safe to call multiple times - only the first call has effect.
func (c *Controller) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.logger.Printf("Session: Shutting down")

		c.cmdMu.Lock()
		c.closing = true
		c.engine.Stop()
		c.unsubscribeAll()
		if c.backend.Connected() {
			if err := c.backend.StopStream(); err != nil {
				c.logger.Printf("Session: stop-stream: %v", err)
			}
		}
		c.cmdMu.Unlock()

		c.cancel()
		c.wg.Wait()

		// Links are closed without cmdMu: a receive loop may be blocked on it
		if err := c.backend.Close(); err != nil {
			c.logger.Printf("Session: Closing backend: %v", err)
		}
		for _, p := range []Peer{c.frontend, c.headset} {
			if err := p.Close(); err != nil {
				c.logger.Printf("Session: Closing %s: %v", p.Name(), err)
			}
		}
		for _, unlisten := range c.unlisten {
			unlisten()
		}
		c.engine.Shutdown()
		c.requestExit()
		c.logger.Printf("Session: Shutdown complete")
	})
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
