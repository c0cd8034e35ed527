// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package recovery

import (
	"time"

	"github.com/innovationmech/sagakit/pkg/saga"
)

// DefaultStartupDelay gives in-flight orchestrators from a previous process
// a moment to finish persisting before the first sweep runs.
const DefaultStartupDelay = 100 * time.Millisecond

// Config configures the recovery sweeper.
type Config struct {
	// StartupDelay is how long to wait after Start before the first pass.
	StartupDelay time.Duration `mapstructure:"startup_delay"`

	// Interval is the period between passes. Zero means a single pass at
	// startup, which covers the plain crash-recovery case.
	Interval time.Duration `mapstructure:"interval"`

	// Statuses are the statuses swept for resumable sagas. Awaiting is
	// deliberately absent from the default set: an Awaiting saga is parked
	// on purpose and only its external trigger should resume it.
	Statuses []saga.Status `mapstructure:"-"`
}

// DefaultConfig returns the default recovery configuration.
func DefaultConfig() *Config {
	return &Config{
		StartupDelay: DefaultStartupDelay,
		Interval:     0,
		Statuses: []saga.Status{
			saga.StatusInProgress,
			saga.StatusCompensating,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.StartupDelay < 0 {
		return saga.NewConfigurationError("recovery StartupDelay must be >= 0")
	}
	if c.Interval < 0 {
		return saga.NewConfigurationError("recovery Interval must be >= 0")
	}
	if len(c.Statuses) == 0 {
		return saga.NewConfigurationError("recovery Statuses must not be empty")
	}
	for _, status := range c.Statuses {
		if !status.IsResumable() {
			return saga.NewConfigurationError("recovery can only sweep resumable statuses").
				WithDetail("status", status.String())
		}
	}
	return nil
}
