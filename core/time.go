// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"time"
)

// frameInterval is the time between two frames, an unlimited frame
// rate ticks as fast as the runtime allows.
func frameInterval(fps int) time.Duration {
	if fps <= 0 {
		return time.Nanosecond
	}
	return time.Second / time.Duration(fps)
}

func pollInterval(delay int) time.Duration {
	if delay <= 0 {
		return time.Millisecond
	}
	return time.Duration(delay) * time.Millisecond
}

// NewTime creates a new time service
func NewTime(cfg TimeConfiguration) *Time {
	return &Time{
		fps:            cfg.FramesPerSecond,
		fpsTicker:      time.NewTicker(frameInterval(cfg.FramesPerSecond)),
		eventPollDelay: cfg.EventPollDelay,
		eventTicker:    time.NewTicker(pollInterval(cfg.EventPollDelay)),
	}
}

// Time paces the frame loop and the window event polling.
type Time struct {
	fps       int
	fpsTicker *time.Ticker

	eventPollDelay int
	eventTicker    *time.Ticker
}

// Fps gets the set frames per second
func (t *Time) Fps() int {
	return t.fps
}

// FpsTicker gets the initialized fps ticker
func (t *Time) FpsTicker() *time.Ticker {
	return t.fpsTicker
}

// EventTicker gets the initialized event ticker for the event loop
func (t *Time) EventTicker() *time.Ticker {
	return t.eventTicker
}

// Stop stops both tickers.
func (t *Time) Stop() {
	t.fpsTicker.Stop()
	t.eventTicker.Stop()
}
