package message

import (
	"encoding/binary"
	"sync"

	"github.com/Orzech99/matter.js/pkg/crypto"
)

// Counter hands out outgoing message counters. A secure session counter
// must not wrap; once exhausted the session has to be re-established.
//
// Safe for concurrent use.
type Counter struct {
	mu        sync.Mutex
	value     uint32
	exhausted bool
}

// NewCounter creates a counter with a random start in [1, 2^28].
func NewCounter() *Counter {
	return &Counter{value: randomCounterInit()}
}

// NewCounterWithValue creates a counter starting at initial.
func NewCounterWithValue(initial uint32) *Counter {
	return &Counter{value: initial}
}

// Next returns the next counter value.
func (c *Counter) Next() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exhausted {
		return 0, ErrCounterExhausted
	}
	current := c.value
	c.value++
	if c.value == 0 {
		c.exhausted = true
	}
	return current, nil
}

func randomCounterInit() uint32 {
	b, err := crypto.RandomBytes(4)
	if err != nil {
		return 1
	}
	return (binary.LittleEndian.Uint32(b) & (CounterInitMax - 1)) + 1
}

// ReceptionState is the sliding-window duplicate detector for one peer.
//
// Safe for concurrent use.
type ReceptionState struct {
	mu          sync.Mutex
	maxCounter  uint32
	bitmap      uint32
	initialized bool
}

// Accept reports whether counter is new and records it. The first counter
// seen initializes the window.
//
// Secure sessions use strict ordering: anything at or behind the window is
// a duplicate. Unsecured messages compare with rollover and accept counters
// behind the window, since the peer may have rebooted.
func (r *ReceptionState) Accept(counter uint32, secure bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		r.maxCounter = counter
		r.initialized = true
		return true
	}

	var behind uint32
	if secure {
		if counter > r.maxCounter {
			r.advance(counter)
			return true
		}
		behind = r.maxCounter - counter
	} else {
		diff := int32(counter - r.maxCounter)
		if diff > 0 {
			r.advance(counter)
			return true
		}
		behind = uint32(-diff)
	}

	if behind == 0 {
		return false
	}
	if behind > CounterWindowSize {
		return !secure
	}
	mask := uint32(1) << (behind - 1)
	if r.bitmap&mask != 0 {
		return false
	}
	r.bitmap |= mask
	return true
}

func (r *ReceptionState) advance(newMax uint32) {
	shift := newMax - r.maxCounter
	if shift > CounterWindowSize {
		r.bitmap = 0
	} else {
		r.bitmap = (r.bitmap << shift) | (1 << (shift - 1))
	}
	r.maxCounter = newMax
}
