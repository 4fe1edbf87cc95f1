// Copyright 2023 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package clock provides a time source that can be swapped for a fake
// implementation in tests, so that health-check cooldowns, retry backoff,
// and queue/request deadlines can be exercised without real sleeps.
package clock

import "time"

// Clock covers the subset of time-related operations the Health Monitor
// and Load Balancer need: ticking (the sampler loop), one-shot timers
// (queue-push and request timeouts, retry backoff), and wall-clock reads
// (cooldown/reprobe comparisons). clockwork itself is only ever imported
// from test code (see internal/clocktest); production code only depends
// on this interface.
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) Ticker
	NewTimer(d time.Duration) Timer
}

// Ticker covers the behavior of a [time.Ticker] actually used here: read
// its channel and stop it on shutdown.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// Timer covers the behavior of a [time.Timer] actually used here: read its
// channel and stop it once it's no longer needed.
type Timer interface {
	Chan() <-chan time.Time
	Stop() bool
}

// New returns a Clock implementation where all methods delegate to the
// corresponding function in the time package.
func New() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

func (realClock) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

type realTicker struct{ *time.Ticker }

func (r realTicker) Chan() <-chan time.Time { return r.C }

type realTimer struct{ *time.Timer }

func (r realTimer) Chan() <-chan time.Time { return r.C }
