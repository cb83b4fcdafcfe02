package rigscope

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	StatusNotActive = "Test Status: Not Active"
	StatusActive    = "Test Status: Active"
)

var ErrUnknownDuration = errors.New("unknown test duration")

// Labels offered by the duration selector, in display order.
var DurationOptions = []string{
	"10 Minutes",
	"30 Minutes",
	"1 Hour",
	"2 Hours",
	"3 Hours",
	"4 Hours",
	"8 Hours",
	"12 Hours",
	"24 Hours",
}

var durationValues = map[string]time.Duration{
	"10 Minutes": 10 * time.Minute,
	"30 Minutes": 30 * time.Minute,
	"1 Hour":     1 * time.Hour,
	"2 Hours":    2 * time.Hour,
	"3 Hours":    3 * time.Hour,
	"4 Hours":    4 * time.Hour,
	"8 Hours":    8 * time.Hour,
	"12 Hours":   12 * time.Hour,
	"24 Hours":   24 * time.Hour,
}

func ParseDuration(label string) (time.Duration, error) {
	d, ok := durationValues[label]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDuration, label)
	}

	return d, nil
}

// RecordingHooks is where the capture backend plugs in. The TestController
// calls these with its own lock held, so implementations must not call back
// into the controller.
type RecordingHooks interface {
	StartRecording()
	StopRecording()
	OnDurationElapsed()
}

// LoggingHooks only logs. It stands in until a real capture backend exists.
type LoggingHooks struct {
	logger logrus.FieldLogger
}

func NewLoggingHooks() *LoggingHooks {
	return &LoggingHooks{logger: logrus.WithField("tag", "RecordingHooks")}
}

func (h *LoggingHooks) StartRecording() { h.logger.Info("recording started") }
func (h *LoggingHooks) StopRecording() { h.logger.Info("recording stopped") }
func (h *LoggingHooks) OnDurationElapsed() { h.logger.Info("test duration elapsed") }

type RecordingState struct {
	Active   bool
	Status   string
	Duration string
	// Seconds since the recording started, 0 when inactive.
	Elapsed float64
	// Seconds until the selected duration elapses, 0 when inactive.
	Remaining float64
}

// TestController holds the recording status and the selected test duration.
type TestController struct {
	hooks RecordingHooks

	mutex     sync.Mutex
	duration  string
	active    bool
	startedAt time.Time

	logger logrus.FieldLogger
}

func NewTestController(hooks RecordingHooks) *TestController {
	if hooks == nil {
		hooks = NewLoggingHooks()
	}

	return &TestController{
		hooks:    hooks,
		duration: DurationOptions[0],
		logger:   logrus.WithField("tag", "TestController"),
	}
}

// SelectDuration changes the test duration. If a recording is running, the
// new duration applies to it, measured from its original start.
func (c *TestController) SelectDuration(label string) error {
	if _, err := ParseDuration(label); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.duration = label
	c.logger.WithField("duration", label).Info("selected test duration")
	return nil
}

// StartRecording returns false if a recording was already active.
func (c *TestController) StartRecording(now time.Time) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.active {
		return false
	}

	c.active = true
	c.startedAt = now
	c.hooks.StartRecording()
	return true
}

// StopRecording returns false if no recording was active.
func (c *TestController) StopRecording() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.stopLocked()
}

// CheckElapsed ends the active recording once the selected duration has
// passed, calling OnDurationElapsed before StopRecording. Returns true when it
// ended a recording.
func (c *TestController) CheckElapsed(now time.Time) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.active {
		return false
	}

	if now.Sub(c.startedAt) < durationValues[c.duration] {
		return false
	}

	c.hooks.OnDurationElapsed()
	c.stopLocked()
	return true
}

func (c *TestController) State(now time.Time) RecordingState {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	state := RecordingState{
		Active:   c.active,
		Status:   StatusNotActive,
		Duration: c.duration,
	}

	if c.active {
		elapsed := now.Sub(c.startedAt)
		state.Status = StatusActive
		state.Elapsed = elapsed.Seconds()
		state.Remaining = Max(0, (durationValues[c.duration] - elapsed).Seconds())
	}

	return state
}

func (c *TestController) stopLocked() bool {
	if !c.active {
		return false
	}

	c.active = false
	c.startedAt = time.Time{}
	c.hooks.StopRecording()
	return true
}
