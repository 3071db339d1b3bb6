// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package agent

import (
	"sync"
	"time"
)

// Timer is a pending scheduled function
type Timer interface {
	Stop() bool
}

// Scheduler runs functions after a delay
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type timeScheduler struct{}

func (timeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Watchdog calls tick once per interval while armed. A tick re-arms nothing by itself,
// the owner arms the watchdog again when it wants another tick.
type Watchdog struct {
	scheduler Scheduler
	interval  time.Duration
	tick      func()

	mu         sync.Mutex
	timer      Timer
	generation uint64
}

// NewWatchdog returns a disarmed watchdog
func NewWatchdog(interval time.Duration, scheduler Scheduler, tick func()) *Watchdog {
	if scheduler == nil {
		scheduler = timeScheduler{}
	}
	return &Watchdog{scheduler: scheduler, interval: interval, tick: tick}
}

// Arm schedules a tick one interval from now, replacing any pending one
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.generation++
	generation := w.generation
	w.timer = w.scheduler.AfterFunc(w.interval, func() { w.fire(generation) })
}

// Disarm cancels the pending tick. A tick that already fired but has not run yet is
// discarded.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.generation++
}

// Armed reports whether a tick is pending
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil
}

func (w *Watchdog) fire(generation uint64) {
	w.mu.Lock()
	if generation != w.generation || w.timer == nil {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.mu.Unlock()
	w.tick()
}
