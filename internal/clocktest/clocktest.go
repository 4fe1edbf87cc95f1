// Copyright 2023-2025 Buf Technologies, Inc.
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

// Package clocktest adapts github.com/jonboulle/clockwork's FakeClock to
// xrpclb's internal/clock.Clock interface, so tests can advance time
// deterministically instead of sleeping. clockwork is only ever imported
// from here (and from _test.go files), never from production code.
//
// Compatibility between Go interfaces is shallow: a method returning one
// interface type does not satisfy a method that must return a different
// (structurally identical) interface type. So the two Clock methods that
// return a Ticker or Timer need to be re-boxed here.
package clocktest

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"xrpclb/internal/clock"
)

// FakeClock is a clock.Clock that can be manually advanced.
type FakeClock interface {
	clock.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, waiters int) error
}

// New creates a new FakeClock backed by clockwork.
func New() FakeClock {
	return fakeClock{clockwork.NewFakeClock()}
}

type fakeClock struct {
	*clockwork.FakeClock
}

var _ FakeClock = fakeClock{}

func (f fakeClock) NewTicker(d time.Duration) clock.Ticker {
	return f.FakeClock.NewTicker(d)
}

func (f fakeClock) NewTimer(d time.Duration) clock.Timer {
	timer := f.FakeClock.NewTimer(d)
	if d == 0 {
		// Reproduce pre-1.23 zero-duration timer semantics; clockwork hasn't
		// caught up yet (jonboulle/clockwork#98).
		if !timer.Stop() {
			<-timer.Chan()
		}
	}
	return timer
}
