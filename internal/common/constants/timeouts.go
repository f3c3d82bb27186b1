// Package constants provides module-wide defaults and timeouts.
package constants

import "time"

const (
	// MarkerPollInterval is how often the pane-driven backend scans exit markers.
	MarkerPollInterval = 500 * time.Millisecond

	// StatusPollInterval is the waitForAll cadence for backends with push-based
	// exit detection.
	StatusPollInterval = 50 * time.Millisecond

	// DriverCommandTimeout bounds a single call to the terminal multiplexer binary.
	DriverCommandTimeout = 10 * time.Second

	// TeardownTimeout bounds detached teardown work (killing panes, aborting
	// tasks, stopping tool registries).
	TeardownTimeout = 30 * time.Second

	// StopGracePeriod is the delay between SIGTERM and SIGKILL when a PTY agent
	// is stopped.
	StopGracePeriod = 2 * time.Second
)
