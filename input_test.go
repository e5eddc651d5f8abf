package main

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPendingInputCoalescesDeltas(t *testing.T) {
	p := &PendingInput{}
	p.AddDelta(3)
	p.AddDelta(-1)
	p.AddDelta(5)

	evs := p.Drain()
	assert.Equal(t, []Event{{Kind: EventEncoderDelta, Delta: 7}}, evs)
	assert.Empty(t, p.Drain(), "drain empties the slots")
}

func TestPendingInputLatchesPresses(t *testing.T) {
	p := &PendingInput{}
	p.PressSelect()
	p.PressSelect() // double tap between drains still yields one event
	p.PressBack()

	evs := p.Drain()
	assert.Equal(t, []Event{{Kind: EventBack}, {Kind: EventSelect}}, evs)
}

func TestPendingInputDrainOrder(t *testing.T) {
	p := &PendingInput{}
	p.AddDelta(2)
	p.Gesture()
	p.PressSelect()
	p.PressBack()
	p.HoldBack()

	evs := p.Drain()
	assert.Equal(t, []Event{
		{Kind: EventBackHeld},
		{Kind: EventBack},
		{Kind: EventSelect},
		{Kind: EventSecretGesture},
		{Kind: EventEncoderDelta, Delta: 2},
	}, evs)
}

func TestPendingInputConcurrentProducers(t *testing.T) {
	p := &PendingInput{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				p.AddDelta(1)
			}
		}()
	}
	wg.Wait()

	evs := p.Drain()
	assert.Equal(t, []Event{{Kind: EventEncoderDelta, Delta: 8000}}, evs)
}
