package restartpolicy

import "time"

// Policy is the restart configuration of one app
type Policy struct {
	Autorestart bool
	MaxRestarts int
	MinUptime   time.Duration
}

// Decision is the outcome of an exit or a watch trigger
type Decision struct {
	Relaunch     bool
	Failed       bool // the restart cap was exceeded, or the tracker was already failed
	RestartCount int
	Reset        bool // the previous run counted as stable and the counter went back to zero
}

// Tracker owns the consecutive-restart counter of one app.
// It is not safe for concurrent use: the app's supervision goroutine is its only writer.
type Tracker struct {
	policy       Policy
	restartCount int
	failed       bool
}

func NewTracker(policy Policy) *Tracker {
	if policy.MaxRestarts < 0 {
		policy.MaxRestarts = 0
	}
	return &Tracker{policy: policy}
}

func (t *Tracker) Policy() Policy {
	return t.policy
}

func (t *Tracker) RestartCount() int {
	return t.restartCount
}

func (t *Tracker) Failed() bool {
	return t.failed
}

// OnExit decides what happens after the process exited on its own after running for uptime.
// Without autorestart the process is never relaunched and the counter is left alone.
func (t *Tracker) OnExit(uptime time.Duration) Decision {
	if t.failed {
		return Decision{Failed: true, RestartCount: t.restartCount}
	}
	if !t.policy.Autorestart {
		return Decision{RestartCount: t.restartCount}
	}
	return t.count(uptime)
}

// OnWatchTrigger decides whether a file change relaunches the process.
// With autorestart the counter semantics of OnExit apply. Without it the relaunch is unconditional.
func (t *Tracker) OnWatchTrigger(uptime time.Duration) Decision {
	if t.failed {
		return Decision{Failed: true, RestartCount: t.restartCount}
	}
	if !t.policy.Autorestart {
		return Decision{Relaunch: true, RestartCount: t.restartCount}
	}
	return t.count(uptime)
}

// Reset clears the counter and the failed state after operator intervention
func (t *Tracker) Reset() {
	t.restartCount = 0
	t.failed = false
}

func (t *Tracker) count(uptime time.Duration) Decision {
	decision := Decision{}

	if uptime >= t.policy.MinUptime {
		t.restartCount = 0
		decision.Reset = true
	} else {
		t.restartCount++
	}
	decision.RestartCount = t.restartCount

	if t.restartCount <= t.policy.MaxRestarts {
		decision.Relaunch = true
	} else {
		t.failed = true
		decision.Failed = true
	}

	return decision
}
