package engine

import (
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/events"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/exercise"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/telemetry"
)

// requestKind represents requests sent to the engine goroutine
type requestKind int

const (
	reqSample requestKind = iota
	reqCalibrate
	reqResetCalibration
	reqStart
	reqStop
	reqSnapshot
)

type request struct {
	kind       requestKind
	reading    telemetry.Reading
	exerciseID int
	reply      chan reply
}

type reply struct {
	err     error
	changed bool
	snap    Snapshot
}

// pendingAction is what happens when the delay timer fires
type pendingAction int

const (
	pendingNone pendingAction = iota
	pendingRetry
	pendingAdvance
)

// session is the mutable state of the exercise currently being run
type session struct {
	runID          string
	def            exercise.Definition
	attempt        int
	startTime      time.Time
	lastZone       ZoneState
	outOfZoneSince time.Time
}

const mailboxSize = 256

// Engine judges CoP readings against the current exercise's zones and drives
// the program forward. All state is owned by one goroutine; the public methods
// talk to it through a mailbox, so samples and commands are applied in the
// order they were submitted.
type Engine struct {
	program *exercise.Program
	cfg     Config
	clock   clock.Clock
	logger  *log.Logger
	events  *events.CallbackEvent[Event]

	mailbox      chan request
	doneChan     chan struct{} // closed to signal shutdown
	exited       chan struct{} // closed when the goroutine has returned
	wg           sync.WaitGroup
	shutdownOnce sync.Once

	// Owned by the engine goroutine
	state      State
	calibrated bool
	current    *session
	legs       map[telemetry.Side]telemetry.CoPSample
	timer      *clock.Timer
	timerC     <-chan time.Time
	pending    pendingAction

	// Last published snapshot, for readers after shutdown
	snapMu sync.RWMutex
	snap   Snapshot
}

// New creates an engine in the Idle state and starts its goroutine
func New(program *exercise.Program, cfg Config, clk clock.Clock, logger *log.Logger) *Engine {
	if program == nil {
		panic("Engine: program cannot be nil")
	}
	if clk == nil {
		panic("Engine: clock cannot be nil")
	}
	if logger == nil {
		panic("Engine: logger cannot be nil")
	}

	e := &Engine{
		program:  program,
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		events:   events.NewCallbackEvent[Event](false),
		mailbox:  make(chan request, mailboxSize),
		doneChan: make(chan struct{}),
		exited:   make(chan struct{}),
		state:    StateIdle,
		legs:     make(map[telemetry.Side]telemetry.CoPSample),
	}
	e.snap = e.buildSnapshot()

	e.wg.Add(1)
	go_func_utils.SafeGo(logger, func() { e.run() })

	return e
}

// Program returns the exercise program the engine runs
func (e *Engine) Program() *exercise.Program { return e.program }

// Config returns the timing policy
func (e *Engine) Config() Config { return e.cfg }

// ListenToEvents registers callback for engine events. Callbacks run on the
// engine goroutine and must not call back into the engine synchronously.
func (e *Engine) ListenToEvents(callback func(Event)) func() {
	return e.events.Listen(callback)
}

// OnSample queues a reading for judgement. Invalid samples are dropped by the
// engine without changing any state.
func (e *Engine) OnSample(r telemetry.Reading) {
	select {
	case e.mailbox <- request{kind: reqSample, reading: r}:
	case <-e.doneChan:
	}
}

// MarkCalibrated moves Idle to Calibrated. It reports false if the engine was
// already calibrated.
func (e *Engine) MarkCalibrated() (bool, error) {
	rep, err := e.call(request{kind: reqCalibrate})
	return rep.changed, err
}

// ResetCalibration stops any session and returns the engine to Idle, e.g.
// after a different pair of devices has been opened
func (e *Engine) ResetCalibration() error {
	_, err := e.call(request{kind: reqResetCalibration})
	return err
}

// Start begins the program at exerciseID. It requires calibration and no
// active session; starting from Completed is allowed.
func (e *Engine) Start(exerciseID int) error {
	_, err := e.call(request{kind: reqStart, exerciseID: exerciseID})
	return err
}

// Stop cancels any pending retry or pause, discards the session and returns
// to Calibrated. It reports whether a session was active; stopping with no
// session is a no-op.
func (e *Engine) Stop() bool {
	rep, _ := e.call(request{kind: reqStop})
	return rep.changed
}

// Snapshot returns a consistent copy of the engine state. It is ordered with
// respect to previously queued samples and commands.
func (e *Engine) Snapshot() Snapshot {
	rep, err := e.call(request{kind: reqSnapshot})
	if err != nil {
		e.snapMu.RLock()
		defer e.snapMu.RUnlock()
		return e.snap
	}
	return rep.snap
}

// Shutdown stops the engine goroutine. Pending timers are cancelled.
// Safe to call multiple times - only the first call has effect.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.logger.Printf("Engine: Shutting down")
		close(e.doneChan)
		e.wg.Wait()
		e.logger.Printf("Engine: Shutdown complete")
	})
}

func (e *Engine) call(req request) (reply, error) {
	req.reply = make(chan reply, 1)
	select {
	case e.mailbox <- req:
	case <-e.doneChan:
		return reply{}, ErrShutdown
	}
	select {
	case rep := <-req.reply:
		return rep, rep.err
	case <-e.exited:
		return reply{}, ErrShutdown
	}
}

// --- Engine goroutine (no locks needed for owned state) ---

func (e *Engine) run() {
	defer e.wg.Done()
	defer close(e.exited)

	for {
		select {
		case <-e.doneChan:
			e.cancelTimer()
			e.publish()
			e.logger.Printf("Engine: Goroutine exiting")
			return

		case req := <-e.mailbox:
			rep := e.handle(req)
			if req.reply != nil {
				req.reply <- rep
			}

		case <-e.timerC:
			e.timer = nil
			e.timerC = nil
			action := e.pending
			e.pending = pendingNone
			e.onDelayElapsed(action)
			e.publish()
		}
	}
}

func (e *Engine) handle(req request) reply {
	var rep reply
	switch req.kind {
	case reqSample:
		e.handleSample(req.reading)
	case reqCalibrate:
		if !e.calibrated {
			e.calibrated = true
			if e.state == StateIdle {
				e.state = StateCalibrated
			}
			rep.changed = true
			e.logger.Printf("Engine: Calibrated")
		}
	case reqResetCalibration:
		if e.state.Active() {
			e.stopSession()
		}
		rep.changed = e.calibrated
		e.calibrated = false
		e.state = StateIdle
		// Readings from the previous pair must not judge the next one
		e.legs = make(map[telemetry.Side]telemetry.CoPSample)
		e.logger.Printf("Engine: Calibration reset")
	case reqStart:
		rep.err = e.handleStart(req.exerciseID)
	case reqStop:
		rep.changed = e.handleStop()
	case reqSnapshot:
	}
	rep.snap = e.buildSnapshot()
	if req.kind != reqSample && req.kind != reqSnapshot {
		e.publish()
	}
	return rep
}

func (e *Engine) handleStart(exerciseID int) error {
	if !e.calibrated {
		return ErrNotCalibrated
	}
	if e.state.Active() {
		return ErrAlreadyRunning
	}
	def, ok := e.program.Get(exerciseID)
	if !ok {
		return ErrUnknownExercise
	}
	e.beginExercise(uuid.NewString(), def, 1)
	return nil
}

func (e *Engine) handleStop() bool {
	switch {
	case e.state.Active():
		e.stopSession()
		return true
	case e.state == StateCompleted:
		e.state = StateCalibrated
		return false
	default:
		return false
	}
}

func (e *Engine) stopSession() {
	e.cancelTimer()
	ev := e.newEvent(EventStopped)
	e.current = nil
	e.state = StateCalibrated
	e.logger.Printf("Engine: Session %s stopped", ev.RunID)
	e.emit(ev)
}

// beginExercise resets the session for def and enters Running
func (e *Engine) beginExercise(runID string, def exercise.Definition, attempt int) {
	e.current = &session{
		runID:     runID,
		def:       def,
		attempt:   attempt,
		startTime: e.clock.Now(),
		lastZone:  ZoneNone,
	}
	e.state = StateRunning
	e.logger.Printf("Engine: [%s] Exercise %d %q started (attempt %d, %ds, legs=%s)",
		runID, def.ID, def.Name, attempt, def.DurationSeconds, def.Legs)

	ev := e.newEvent(EventExerciseStarted)
	ev.Duration = def.Duration()
	e.emit(ev)
}

func (e *Engine) handleSample(r telemetry.Reading) {
	if err := r.Sample.Validate(); err != nil {
		e.logger.Printf("Engine: Dropping sample from %s: %v", r.DeviceID, err)
		return
	}
	if r.Side == telemetry.SideUnknown {
		return
	}
	e.legs[r.Side] = r.Sample

	if e.state != StateRunning || e.current == nil {
		return
	}
	s := e.current
	if !relevant(s.def.Legs, r.Side) {
		return
	}

	now := r.At
	if now.IsZero() {
		now = e.clock.Now()
	}

	isGreen, isRed := e.judge(s.def)

	// Edge-triggered zone transitions
	if isGreen && s.lastZone != ZoneGreen {
		s.lastZone = ZoneGreen
		e.emitZone(ZoneGreen, now)
	} else if isRed && s.lastZone != ZoneRed {
		s.lastZone = ZoneRed
		e.emitZone(ZoneRed, now)
	}

	if !isGreen {
		if s.outOfZoneSince.IsZero() {
			s.outOfZoneSince = now
		}
		if now.Sub(s.outOfZoneSince) >= e.cfg.BalanceLossAfter {
			e.onBalanceLost(now)
		}
		return
	}

	// An exercise only ends in success while the wearer is in the green zone;
	// an out-of-zone wearer past the duration either recovers or loses balance.
	s.outOfZoneSince = time.Time{}
	if now.Sub(s.startTime) >= s.def.Duration() {
		e.onExerciseSucceeded(now)
	}
}

// judge evaluates the zone predicates on the latest sample of each leg the
// exercise uses. A leg with no sample yet is in neither zone.
func (e *Engine) judge(def exercise.Definition) (isGreen, isRed bool) {
	green := func(side telemetry.Side) bool {
		s, ok := e.legs[side]
		return ok && def.InGreen(s.X, s.Y)
	}
	red := func(side telemetry.Side) bool {
		s, ok := e.legs[side]
		return ok && def.InRed(s.X, s.Y)
	}

	switch def.Legs {
	case exercise.LegsLeft:
		return green(telemetry.SideLeft), red(telemetry.SideLeft)
	case exercise.LegsRight:
		return green(telemetry.SideRight), red(telemetry.SideRight)
	default:
		return green(telemetry.SideLeft) && green(telemetry.SideRight),
			red(telemetry.SideLeft) || red(telemetry.SideRight)
	}
}

func relevant(legs exercise.Legs, side telemetry.Side) bool {
	switch legs {
	case exercise.LegsLeft:
		return side == telemetry.SideLeft
	case exercise.LegsRight:
		return side == telemetry.SideRight
	default:
		return side == telemetry.SideLeft || side == telemetry.SideRight
	}
}

func (e *Engine) onBalanceLost(now time.Time) {
	e.state = StateRetrying
	e.logger.Printf("Engine: [%s] Balance lost on exercise %d, retrying in %v",
		e.current.runID, e.current.def.ID, e.cfg.RetryDelay)

	ev := e.newEvent(EventBalanceLost)
	ev.At = now
	ev.Delay = e.cfg.RetryDelay
	e.schedule(pendingRetry, e.cfg.RetryDelay)
	e.emit(ev)
}

func (e *Engine) onExerciseSucceeded(now time.Time) {
	e.state = StatePaused
	e.logger.Printf("Engine: [%s] Exercise %d succeeded, pausing %v",
		e.current.runID, e.current.def.ID, e.cfg.PauseDelay)

	ev := e.newEvent(EventExerciseSucceeded)
	ev.At = now
	ev.Delay = e.cfg.PauseDelay
	e.schedule(pendingAdvance, e.cfg.PauseDelay)
	e.emit(ev)
}

// onDelayElapsed runs the follow-up of a balance loss or a success
func (e *Engine) onDelayElapsed(action pendingAction) {
	s := e.current
	if s == nil {
		return
	}
	switch action {
	case pendingRetry:
		e.beginExercise(s.runID, s.def, s.attempt+1)
	case pendingAdvance:
		next, ok := e.program.Get(s.def.ID + 1)
		if ok {
			e.beginExercise(s.runID, next, 1)
			return
		}
		ev := e.newEvent(EventProgramCompleted)
		e.current = nil
		e.state = StateCompleted
		e.logger.Printf("Engine: [%s] Program completed", ev.RunID)
		e.emit(ev)
	}
}

func (e *Engine) schedule(action pendingAction, d time.Duration) {
	e.cancelTimer()
	e.pending = action
	e.timer = e.clock.Timer(d)
	e.timerC = e.timer.C
}

func (e *Engine) cancelTimer() {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = nil
	e.timerC = nil
	e.pending = pendingNone
}

func (e *Engine) newEvent(kind EventKind) Event {
	ev := Event{Kind: kind, At: e.clock.Now()}
	if s := e.current; s != nil {
		ev.RunID = s.runID
		ev.ExerciseID = s.def.ID
		ev.ExerciseName = s.def.Name
		ev.Attempt = s.attempt
	}
	return ev
}

func (e *Engine) emitZone(zone ZoneState, at time.Time) {
	ev := e.newEvent(EventZoneEnter)
	ev.Zone = zone
	ev.At = at
	e.logger.Printf("Engine: [%s] %s", ev.RunID, ev.Message())
	e.emit(ev)
}

func (e *Engine) emit(ev Event) {
	e.events.Notify(ev)
}

func (e *Engine) buildSnapshot() Snapshot {
	snap := Snapshot{
		State:      e.state,
		Calibrated: e.calibrated,
	}
	if s := e.current; s != nil {
		snap.Visualizing = true
		snap.RunID = s.runID
		snap.ExerciseID = s.def.ID
		snap.ExerciseName = s.def.Name
		snap.Attempt = s.attempt
		snap.StartTime = s.startTime
		snap.LastZone = s.lastZone
		snap.OutOfZoneSince = s.outOfZoneSince
	}
	return snap
}

func (e *Engine) publish() {
	snap := e.buildSnapshot()
	e.snapMu.Lock()
	e.snap = snap
	e.snapMu.Unlock()
}
