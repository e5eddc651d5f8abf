package main

import (
	"log"
	"sync/atomic"
	"time"

	evdev "github.com/holoplot/go-evdev"
)

const backHoldThreshold = 1500 * time.Millisecond

// PendingInput coalesces raw input into a fixed set of slots read by the main
// loop. Producers are the evdev reader goroutines and the IMU poller; the
// single consumer drains everything with Drain once per loop pass. Encoder
// deltas accumulate between drains on purpose: a fast spin collapses into one
// event carrying the whole distance.
type PendingInput struct {
	encoderDelta  atomic.Int64
	selectPressed atomic.Bool
	backPressed   atomic.Bool
	backHeld      atomic.Bool
	gesture       atomic.Bool
}

// AddDelta accumulates encoder movement.
func (p *PendingInput) AddDelta(d int) {
	p.encoderDelta.Add(int64(d))
}

// PressSelect latches one select press.
func (p *PendingInput) PressSelect() {
	p.selectPressed.Store(true)
}

// PressBack latches one back press.
func (p *PendingInput) PressBack() {
	p.backPressed.Store(true)
}

// HoldBack latches the long-press slot. The reader fires this once per
// physical hold, so the engine sees one BackHeld per hold.
func (p *PendingInput) HoldBack() {
	p.backHeld.Store(true)
}

// Gesture latches a detected smash gesture.
func (p *PendingInput) Gesture() {
	p.gesture.Store(true)
}

// Drain empties all pending slots into discrete events, in a fixed order:
// long-press first (it preempts navigation), then back, select, gesture, and
// the accumulated encoder delta last.
func (p *PendingInput) Drain() []Event {
	var evs []Event
	if p.backHeld.Swap(false) {
		evs = append(evs, Event{Kind: EventBackHeld})
	}
	if p.backPressed.Swap(false) {
		evs = append(evs, Event{Kind: EventBack})
	}
	if p.selectPressed.Swap(false) {
		evs = append(evs, Event{Kind: EventSelect})
	}
	if p.gesture.Swap(false) {
		evs = append(evs, Event{Kind: EventSecretGesture})
	}
	if d := p.encoderDelta.Swap(0); d != 0 {
		evs = append(evs, Event{Kind: EventEncoderDelta, Delta: int(d)})
	}
	return evs
}

// findInputDevice locates an evdev node by its advertised name.
func findInputDevice(name string) (*evdev.InputDevice, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, err
	}

	var devPath string
	for _, ip := range paths {
		if ip.Name == name {
			devPath = ip.Path
			break
		}
	}
	if devPath == "" {
		return nil, errDeviceNotFound(name)
	}

	dev, err := evdev.Open(devPath)
	if err != nil {
		return nil, err
	}
	if err := dev.Grab(); err != nil {
		log.Printf("warning: failed to grab %s: %v", devPath, err)
	}
	log.Printf("using input device: %s (%s)", devPath, name)
	return dev, nil
}

type errDeviceNotFound string

func (e errDeviceNotFound) Error() string {
	return "input device not found: " + string(e)
}

// monitorButtons reads the key device and feeds the pending slots. A back
// press shorter than the hold threshold registers as Back on release; holding
// past the threshold fires one BackHeld and swallows the release.
func monitorButtons(dev *evdev.InputDevice, pending *PendingInput) {
	defer dev.Ungrab()

	var backDownAt time.Time
	backHeldFired := false

	for {
		ev, err := dev.ReadOne()
		if err != nil {
			log.Printf("button read error: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if ev.Type != evdev.EV_KEY {
			continue
		}

		now := time.Now()
		switch ev.Code {
		case evdev.KEY_ENTER:
			if ev.Value == 1 {
				pending.PressSelect()
			}
		case evdev.KEY_BACK, evdev.KEY_ESC:
			switch ev.Value {
			case 1:
				backDownAt = now
				backHeldFired = false
			case 2: // autorepeat while held
				if !backHeldFired && now.Sub(backDownAt) >= backHoldThreshold {
					pending.HoldBack()
					backHeldFired = true
				}
			case 0:
				if backHeldFired {
					break
				}
				if now.Sub(backDownAt) >= backHoldThreshold {
					pending.HoldBack()
				} else {
					pending.PressBack()
				}
			}
		}
	}
}

// monitorEncoder reads the rotary encoder device and accumulates relative
// steps into the pending delta slot.
func monitorEncoder(dev *evdev.InputDevice, pending *PendingInput) {
	defer dev.Ungrab()

	for {
		ev, err := dev.ReadOne()
		if err != nil {
			log.Printf("encoder read error: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if ev.Type != evdev.EV_REL {
			continue
		}
		if ev.Code == evdev.REL_DIAL || ev.Code == evdev.REL_X {
			pending.AddDelta(int(ev.Value))
		}
	}
}

// monitorIMU polls the motion sensor and latches a gesture slot whenever the
// smash detector fires.
func monitorIMU(sampler ImuSampler, det *SmashDetector, pending *PendingInput) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	start := time.Now()
	for range ticker.C {
		s, ok := sampler.Read()
		if !ok {
			continue
		}
		nowMs := uint64(time.Since(start) / time.Millisecond)
		if det.Update(nowMs, s) {
			pending.Gesture()
		}
	}
}
