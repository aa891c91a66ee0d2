// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package clock

import "time"

// FakeClock is a Clock that uses the real wall clock for Now but fires
// After on a fixed WaitTime instead of the requested duration, useful for
// integration tests that need a hedge delay to resolve quickly without
// faking timestamps throughout.
type FakeClock struct {
	WaitTime time.Duration
}

// Now returns the current time. This implementation uses the real time, making
// this clock a hybrid.
func (mc *FakeClock) Now() time.Time {
	return time.Now()
}

// After notifies on the returned channel after WaitTime has elapsed,
// regardless of the requested duration.
func (mc *FakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time)
	go func() {
		time.Sleep(mc.WaitTime)
		ch <- time.Now()
	}()
	return ch
}
