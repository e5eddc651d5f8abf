package main

// UI navigation engine: a root-anchored stack of states driven by discrete
// input events and animation ticks. Transitions are computed as an effect
// list so the navigation logic stays testable without any hardware; the
// renderer consumes the redraw scopes to repaint the smallest region that
// actually changed.

// EventKind tags one discrete input occurrence.
type EventKind int

const (
	EventBack EventKind = iota
	EventSelect
	EventEncoderDelta
	EventSecretGesture
	EventBackHeld
)

// Event is one input occurrence from the input collaborator. Encoder deltas
// are signed step counts and may exceed 1 in magnitude when the loop polls
// slower than the user spins.
type Event struct {
	Kind  EventKind
	Delta int
}

// Apps reachable from the home screen, in selector order.
const (
	appOmnitrix = iota
	appTime
	appSettings
	appCount
)

const alienCount = 10

// RedrawScope tells the renderer how much of the screen a transition dirtied.
type RedrawScope int

const (
	RedrawFull RedrawScope = iota
	RedrawHomeSelector
	RedrawAlienArt
	RedrawBrightnessBar
	RedrawTimeText
	RedrawTransformFrame
)

// State variants. Each one owns exactly the data it needs to render and to
// resume when the state above it pops.

type HomeState struct {
	Sel int // selected app, 0..appCount-1
}

type OmnitrixState struct {
	Selected int // alien index, 0..alienCount-1
}

type TimeMode int

const (
	TimeAnalog TimeMode = iota
	TimeDigital
)

type TimeField int

const (
	FieldHour TimeField = iota
	FieldMinute
)

type TimeState struct {
	Mode    TimeMode
	Editing bool
	Field   TimeField
	Hour    int
	Minute  int
}

type SettingsPage int

const (
	PageBrightness SettingsPage = iota
	PageEasterEgg
)

type SettingsState struct {
	Page SettingsPage
}

type TransformState struct {
	Frame int
}

// State is one entry of the navigation stack.
type State interface {
	stateName() string
}

func (*HomeState) stateName() string      { return "home" }
func (*OmnitrixState) stateName() string  { return "omnitrix" }
func (*TimeState) stateName() string      { return "time" }
func (*SettingsState) stateName() string  { return "settings" }
func (*TransformState) stateName() string { return "transform" }

// Effects produced by a transition, applied by the engine in order.
type effectKind int

const (
	effectPush effectKind = iota
	effectPop
	effectRedraw
	effectSetBrightness
	effectCommitTime
	effectPowerIntent
)

type effect struct {
	kind  effectKind
	state State
	scope RedrawScope
	level int // brightness percent
	hour  int
	min   int
}

const defaultBrightness = 80

// Engine is the single-instance UI state machine. It is not safe for
// concurrent use; the main loop is its only caller.
type Engine struct {
	stack  []State
	redraw bool
	scopes []RedrawScope

	brightness int // 0..100, volatile, reset every boot
	clock      Clock
	onBright   func(percent int) // external brightness control
	powerOff   bool              // latched low-power intent, edge per hold

	transformFrames int // terminal frame of the transform animation

	lastMinute int // last minute shown, for tick-driven clock refresh
}

// NewEngine builds the engine anchored at Home. transformFrames is the frame
// count of the transform animation asset; onBright receives brightness
// changes for the panel register.
func NewEngine(clock Clock, transformFrames int, onBright func(percent int)) *Engine {
	e := &Engine{
		stack:           []State{&HomeState{}},
		brightness:      defaultBrightness,
		clock:           clock,
		onBright:        onBright,
		transformFrames: transformFrames,
		lastMinute:      -1,
	}
	e.markRedraw(RedrawFull)
	return e
}

// Current returns the visible state (the stack top).
func (e *Engine) Current() State {
	return e.stack[len(e.stack)-1]
}

// Depth returns the stack depth. Home is always the bottom element.
func (e *Engine) Depth() int {
	return len(e.stack)
}

// Redraw reports whether something changed since the last render pass.
func (e *Engine) Redraw() bool {
	return e.redraw
}

// TakeRedraw returns the pending redraw scopes and clears the flag. The main
// loop calls it exactly once per redraw pass.
func (e *Engine) TakeRedraw() []RedrawScope {
	s := e.scopes
	e.scopes = nil
	e.redraw = false
	return s
}

// ForceRedraw marks the whole screen dirty, for wake-from-sleep.
func (e *Engine) ForceRedraw() {
	e.markRedraw(RedrawFull)
}

// TakePowerIntent reports a pending low-power request and clears it.
func (e *Engine) TakePowerIntent() bool {
	p := e.powerOff
	e.powerOff = false
	return p
}

// Brightness returns the current level in percent.
func (e *Engine) Brightness() int {
	return e.brightness
}

// Handle consumes one event. Events are consumed one at a time, in arrival
// order; event kinds that mean nothing in the current state are absorbed as
// no-ops.
func (e *Engine) Handle(ev Event) {
	top := e.stack[len(e.stack)-1]
	next, effs := e.transition(top, ev)
	e.stack[len(e.stack)-1] = next
	e.apply(effs)
}

// Tick advances continually-redrawing states: the transform animation and
// the live clock face. The main loop drives it at its frame cadence.
func (e *Engine) Tick() {
	switch s := e.Current().(type) {
	case *TransformState:
		s.Frame++
		if s.Frame >= e.transformFrames {
			e.apply([]effect{{kind: effectPop}, {kind: effectRedraw, scope: RedrawFull}})
			return
		}
		e.markRedraw(RedrawTransformFrame)
	case *TimeState:
		if s.Editing {
			return
		}
		now := e.clock.Now()
		if now.Minute() != e.lastMinute || now.Hour() != s.Hour {
			s.Hour, s.Minute = now.Hour(), now.Minute()
			e.lastMinute = now.Minute()
			e.markRedraw(RedrawTimeText)
		}
	}
}

// transition maps (state, event) to the replacement top state plus effects.
// It mutates nothing itself, which keeps the navigation table readable in
// one place and testable without a display.
func (e *Engine) transition(s State, ev Event) (State, []effect) {
	// BackHeld behaves the same everywhere: raise the low-power intent,
	// leave the stack alone.
	if ev.Kind == EventBackHeld {
		return s, []effect{{kind: effectPowerIntent}}
	}

	switch st := s.(type) {
	case *HomeState:
		switch ev.Kind {
		case EventSelect:
			return st, []effect{
				{kind: effectPush, state: e.newApp(st.Sel)},
				{kind: effectRedraw, scope: RedrawFull},
			}
		case EventEncoderDelta:
			st.Sel = wrap(st.Sel+ev.Delta, appCount)
			return st, []effect{{kind: effectRedraw, scope: RedrawHomeSelector}}
		}
		// Back at the root is a no-op and must not set the redraw flag.
		return st, nil

	case *OmnitrixState:
		switch ev.Kind {
		case EventBack:
			return st, popEffects()
		case EventEncoderDelta:
			st.Selected = wrap(st.Selected+ev.Delta, alienCount)
			return st, []effect{{kind: effectRedraw, scope: RedrawAlienArt}}
		case EventSecretGesture:
			return st, []effect{
				{kind: effectPush, state: &TransformState{}},
				{kind: effectRedraw, scope: RedrawFull},
			}
		}
		return st, nil

	case *TimeState:
		return e.transitionTime(st, ev)

	case *SettingsState:
		switch ev.Kind {
		case EventBack:
			return st, popEffects()
		case EventEncoderDelta:
			return e.transitionSettings(st, ev.Delta)
		}
		return st, nil

	case *TransformState:
		// Back cancels the animation; everything else waits it out.
		if ev.Kind == EventBack {
			return st, popEffects()
		}
		return st, nil
	}
	return s, nil
}

func (e *Engine) transitionTime(st *TimeState, ev Event) (State, []effect) {
	if st.Editing {
		switch ev.Kind {
		case EventEncoderDelta:
			switch st.Field {
			case FieldHour:
				st.Hour = wrap(st.Hour+ev.Delta, 24)
			case FieldMinute:
				st.Minute = wrap(st.Minute+ev.Delta, 60)
			}
			return st, []effect{{kind: effectRedraw, scope: RedrawTimeText}}
		case EventSelect:
			if st.Field == FieldHour {
				st.Field = FieldMinute
				return st, []effect{{kind: effectRedraw, scope: RedrawTimeText}}
			}
			// Last field: commit through the RTC and leave edit mode.
			st.Editing = false
			st.Field = FieldHour
			return st, []effect{
				{kind: effectCommitTime, hour: st.Hour, min: st.Minute},
				{kind: effectRedraw, scope: RedrawTimeText},
			}
		case EventBack:
			// Cancel the edit without committing.
			st.Editing = false
			st.Field = FieldHour
			now := e.clock.Now()
			st.Hour, st.Minute = now.Hour(), now.Minute()
			return st, []effect{{kind: effectRedraw, scope: RedrawTimeText}}
		}
		return st, nil
	}

	switch ev.Kind {
	case EventBack:
		return st, popEffects()
	case EventEncoderDelta:
		st.Mode = TimeMode(wrap(int(st.Mode)+ev.Delta, 2))
		return st, []effect{{kind: effectRedraw, scope: RedrawFull}}
	case EventSelect:
		if st.Mode == TimeDigital {
			st.Editing = true
			st.Field = FieldHour
			return st, []effect{{kind: effectRedraw, scope: RedrawTimeText}}
		}
	}
	return st, nil
}

// transitionSettings adjusts brightness with clamping; a delta arriving while
// the level is already pinned at a bound crosses over to the other page.
func (e *Engine) transitionSettings(st *SettingsState, delta int) (State, []effect) {
	if st.Page == PageEasterEgg {
		st.Page = PageBrightness
		return st, []effect{{kind: effectRedraw, scope: RedrawFull}}
	}
	level := clamp(e.brightness+delta, 0, 100)
	if level == e.brightness && delta != 0 {
		st.Page = PageEasterEgg
		return st, []effect{{kind: effectRedraw, scope: RedrawFull}}
	}
	return st, []effect{
		{kind: effectSetBrightness, level: level},
		{kind: effectRedraw, scope: RedrawBrightnessBar},
	}
}

// newApp builds a fresh app state for a home selection. UI position is
// volatile, so every entry starts from the app's defaults.
func (e *Engine) newApp(sel int) State {
	switch sel {
	case appOmnitrix:
		return &OmnitrixState{}
	case appTime:
		now := e.clock.Now()
		return &TimeState{Mode: TimeAnalog, Hour: now.Hour(), Minute: now.Minute()}
	default:
		return &SettingsState{Page: PageBrightness}
	}
}

func (e *Engine) apply(effs []effect) {
	for _, ef := range effs {
		switch ef.kind {
		case effectPush:
			e.stack = append(e.stack, ef.state)
		case effectPop:
			if len(e.stack) > 1 {
				e.stack = e.stack[:len(e.stack)-1]
			}
		case effectRedraw:
			e.markRedraw(ef.scope)
		case effectSetBrightness:
			e.brightness = ef.level
			if e.onBright != nil {
				e.onBright(ef.level)
			}
		case effectCommitTime:
			e.clock.Set(ef.hour, ef.min)
		case effectPowerIntent:
			e.powerOff = true
		}
	}
}

func (e *Engine) markRedraw(scope RedrawScope) {
	e.redraw = true
	e.scopes = append(e.scopes, scope)
}

func popEffects() []effect {
	return []effect{{kind: effectPop}, {kind: effectRedraw, scope: RedrawFull}}
}

// wrap applies a full signed delta with modulo semantics.
func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
