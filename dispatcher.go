package rigscope

import (
	"context"
	"errors"
	"fmt"
	"runtime/trace"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultTickPeriod = 20 * time.Millisecond

var ErrUnknownView = errors.New("unknown view")

// Returned by Subscribe when the channel cannot take the snapshot.
var ErrSubscriberFull = errors.New("subscriber channel has no room for the snapshot")

// A plot registered with the Dispatcher.
type View struct {
	id      int
	options ViewOptions
	series  *Series
}

func (v *View) ID() int { return v.id }
func (v *View) Options() ViewOptions { return v.options }
func (v *View) Title() string { return v.options.Title }

// accepts reports whether a sample with the given label is plotted here.
// Unlabelled samples go to every view.
func (v *View) accepts(label string) bool {
	if label == "" || strings.EqualFold(label, v.options.Title) {
		return true
	}

	for _, source := range v.options.Sources {
		if strings.EqualFold(label, source) {
			return true
		}
	}
	return false
}

type EventKind string

const (
	// Full state, sent once to every new subscriber.
	EventSnapshot EventKind = "snapshot"
	// The points and console lines produced by one tick.
	EventSample EventKind = "sample"
	// Live update flag or recording status changed.
	EventState EventKind = "state"
)

type ViewPoint struct {
	View int
	X    float64
	Y    float64
}

type ViewSeries struct {
	View   int
	Points []Point
}

type ControlState struct {
	LiveUpdates bool
	Recording   RecordingState
}

type Event struct {
	Kind   EventKind
	Points []ViewPoint   `json:",omitempty"`
	Series []ViewSeries  `json:",omitempty"`
	Lines  []string      `json:",omitempty"`
	State  *ControlState `json:",omitempty"`
	// Set when every series was emptied, which happens on each live update
	// toggle.
	Cleared bool `json:",omitempty"`
}

type DispatchStats struct {
	Ticks        uint64
	Dispatched   uint64 // ticks whose sample reached the views
	Paused       uint64 // samples dropped because live updates were off
	NoData       uint64
	SourceErrors uint64
	// Events not delivered because a subscriber channel was full.
	DroppedEvents uint64
	// Non-finite points rejected by the views' series.
	DroppedSamples uint64
	// Labelled samples no view plots; they only reach the console.
	Unrouted uint64
	// Set when the source reads on its own goroutine.
	Source *SourceHealth `json:",omitempty"`
}

// Dispatcher drives the sampling pipeline. On every tick it pulls one sample
// from the source and, while live updates are enabled, appends it to every
// registered view's Series and a formatted line per view to the console.
//
// One mutex governs the views, their series, the console and the subscriber
// list. Subscribers receive a snapshot on registration and every event after
// it, with no gap between the two.
type Dispatcher struct {
	source     SampleSource
	period     time.Duration
	windowSize int
	console    *LogBuffer
	controller *TestController
	now        func() time.Time

	mutex sync.Mutex
	wg    sync.WaitGroup

	views       []*View
	liveUpdates bool
	stats       DispatchStats
	sourceEnded bool

	// Channels should be buffered. A subscriber that falls behind loses
	// events rather than stalling the tick.
	subscribers []chan<- Event

	logger logrus.FieldLogger
}

func NewDispatcher(source SampleSource, period time.Duration, windowSize int, console *LogBuffer, controller *TestController) *Dispatcher {
	if period <= 0 {
		period = DefaultTickPeriod
	}

	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	if console == nil {
		console = NewLogBuffer(DefaultLogCapacity, nil)
	}

	if controller == nil {
		controller = NewTestController(nil)
	}

	return &Dispatcher{
		source:      source,
		period:      period,
		windowSize:  windowSize,
		console:     console,
		controller:  controller,
		now:         time.Now,
		views:       make([]*View, 0),
		liveUpdates: true,
		subscribers: make([]chan<- Event, 0),
		logger:      logrus.WithField("tag", "Dispatcher"),
	}
}

// WithClock replaces the wall clock used for recording durations.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// RegisterView adds a plot with an empty Series. Views are dispatched to in
// registration order. Intended to be called during setup, before Start.
func (d *Dispatcher) RegisterView(options ViewOptions) *View {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	view := &View{
		id:      len(d.views),
		options: options,
		series:  NewSeries(d.windowSize),
	}
	d.views = append(d.views, view)

	d.logger.WithFields(logrus.Fields{
		"id":    view.id,
		"title": options.Title,
	}).Debug("registered view")

	return view
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx)
	}()
}

func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	d.logger.WithField("period", d.period).Info("dispatch loop started")

	for {
		select {
		case <-ctx.Done():
			d.mutex.Lock()
			stats := d.stats
			d.mutex.Unlock()

			d.logger.WithFields(logrus.Fields{
				"ticks":      stats.Ticks,
				"dispatched": stats.Dispatched,
			}).Info("dispatch loop stopped")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one iteration of the pipeline. It is exported so the pipeline
// can be driven without a timer.
func (d *Dispatcher) Tick(ctx context.Context) {
	traceCtx, task := trace.NewTask(ctx, "DispatcherTick")
	defer task.End()

	var sample Sample
	var err error
	trace.WithRegion(traceCtx, "SampleSourceRead", func() {
		sample, err = d.source.NextSample(traceCtx)
	})

	trace.WithRegion(traceCtx, "Lock", d.mutex.Lock)
	defer d.mutex.Unlock()

	d.stats.Ticks++

	if d.controller.CheckElapsed(d.now()) {
		d.logger.Info("test duration elapsed, recording stopped")
		d.broadcastLocked(Event{Kind: EventState, State: d.stateLocked()})
	}

	if errors.Is(err, ErrNoData) {
		d.stats.NoData++
		d.checkSourceEndedLocked()
		return
	} else if err != nil {
		d.stats.SourceErrors++
		d.logger.WithError(err).Warn("sample source failed, skipping tick")
		return
	}

	if !d.liveUpdates {
		d.stats.Paused++
		return
	}

	event := Event{
		Kind:   EventSample,
		Points: make([]ViewPoint, 0, len(d.views)),
		Lines:  make([]string, 0, len(d.views)),
	}

	views := Filter(d.views, func(view *View) bool {
		return view.accepts(sample.Label)
	})
	if len(views) == 0 {
		line := FormatReading(sample.Label, sample)
		d.console.AppendLine(line)
		event.Lines = append(event.Lines, line)
		d.stats.Unrouted++
		d.broadcastLocked(event)
		return
	}

	trace.WithRegion(traceCtx, "Append", func() {
		for _, view := range views {
			line := FormatReading(view.options.Title, sample)
			d.console.AppendLine(line)
			event.Lines = append(event.Lines, line)

			if view.series.Append(sample.Timestamp, sample.Value) {
				event.Points = append(event.Points, ViewPoint{View: view.id, X: sample.Timestamp, Y: sample.Value})
			}
		}
	})

	d.stats.Dispatched++

	trace.WithRegion(traceCtx, "Broadcast", func() {
		d.broadcastLocked(event)
	})
}

// checkSourceEndedLocked logs once when a buffered source stops reading.
func (d *Dispatcher) checkSourceEndedLocked() {
	reporter, ok := d.source.(SourceHealthReporter)
	if !ok || d.sourceEnded {
		return
	}

	health := reporter.Health()
	if !health.Ended {
		return
	}

	d.sourceEnded = true
	logger := d.logger.WithField("overflow", health.Overflow)
	if health.Err != "" {
		logger.WithField("error", health.Err).Error("sample source stopped")
	} else {
		logger.Warn("sample source reached end of input")
	}
}

func (d *Dispatcher) LiveUpdates() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.liveUpdates
}

// ToggleLiveUpdates flips the live update flag and returns the resulting
// state. Every series is cleared on each toggle, so charts go blank on pause
// and restart empty on resume.
func (d *Dispatcher) ToggleLiveUpdates() ControlState {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.setLiveUpdatesLocked(!d.liveUpdates)
	return *d.stateLocked()
}

// SetLiveUpdates behaves like ToggleLiveUpdates when enabled differs from the
// current value, and does nothing otherwise.
func (d *Dispatcher) SetLiveUpdates(enabled bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.liveUpdates == enabled {
		return
	}

	d.setLiveUpdatesLocked(enabled)
}

func (d *Dispatcher) setLiveUpdatesLocked(enabled bool) {
	for _, view := range d.views {
		view.series.Clear()
	}

	d.liveUpdates = enabled
	d.logger.WithField("liveUpdates", enabled).Info("live updates toggled")

	d.broadcastLocked(Event{
		Kind:    EventState,
		State:   d.stateLocked(),
		Cleared: true,
	})
}

// StartRecording returns the state right after the call and whether a
// recording was started by it.
func (d *Dispatcher) StartRecording() (ControlState, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	started := d.controller.StartRecording(d.now())
	state := d.stateLocked()
	if started {
		d.broadcastLocked(Event{Kind: EventState, State: state})
	}
	return *state, started
}

// StopRecording returns the state right after the call and whether a running
// recording was stopped by it.
func (d *Dispatcher) StopRecording() (ControlState, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	stopped := d.controller.StopRecording()
	state := d.stateLocked()
	if stopped {
		d.broadcastLocked(Event{Kind: EventState, State: state})
	}
	return *state, stopped
}

func (d *Dispatcher) SelectDuration(label string) (ControlState, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.controller.SelectDuration(label); err != nil {
		return *d.stateLocked(), err
	}

	state := d.stateLocked()
	d.broadcastLocked(Event{Kind: EventState, State: state})
	return *state, nil
}

func (d *Dispatcher) State() ControlState {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return *d.stateLocked()
}

func (d *Dispatcher) stateLocked() *ControlState {
	return &ControlState{
		LiveUpdates: d.liveUpdates,
		Recording:   d.controller.State(d.now()),
	}
}

// Views returns the registered views in registration order.
func (d *Dispatcher) Views() []*View {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	views := make([]*View, len(d.views))
	copy(views, d.views)
	return views
}

// SeriesPoints returns a copy of a view's points and its options.
func (d *Dispatcher) SeriesPoints(id int) ([]Point, ViewOptions, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if id < 0 || id >= len(d.views) {
		return nil, ViewOptions{}, fmt.Errorf("%w: %d", ErrUnknownView, id)
	}

	view := d.views[id]
	return view.series.Render(), view.options, nil
}

func (d *Dispatcher) ConsoleLines() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.console.Lines()
}

func (d *Dispatcher) Stats() DispatchStats {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	stats := d.stats
	for _, view := range d.views {
		stats.DroppedSamples += view.series.Dropped()
	}

	if reporter, ok := d.source.(SourceHealthReporter); ok {
		health := reporter.Health()
		stats.Source = &health
	}

	return stats
}

func (d *Dispatcher) Metadata() Metadata {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	views := make([]ViewMetadata, 0, len(d.views))
	for _, view := range d.views {
		views = append(views, ViewMetadata{ID: view.id, ViewOptions: view.options})
	}

	return Metadata{
		WindowTitle:     WindowTitle,
		WindowSize:      d.windowSize,
		LogCapacity:     d.console.Capacity(),
		TickPeriod:      d.period.Seconds(),
		Views:           views,
		Console:         DefaultConsoleLayout(),
		DurationOptions: DurationOptions,
	}
}

// Subscribe registers a channel for live events. Called from the HTTP server
// when a websocket client connects.
//
// The snapshot is pushed and the channel added under the same lock the tick
// takes, so the subscriber sees every event that follows its snapshot. c
// must have room for at least one event; otherwise nothing is registered and
// ErrSubscriberFull is returned.
func (d *Dispatcher) Subscribe(ctx context.Context, c chan<- Event) error {
	traceCtx, task := trace.NewTask(ctx, "Subscribe")
	defer task.End()

	trace.WithRegion(traceCtx, "Lock", d.mutex.Lock)
	defer d.mutex.Unlock()

	var err error
	trace.WithRegion(traceCtx, "pushSnapshot", func() {
		select {
		case c <- d.snapshotLocked():
		default:
			err = ErrSubscriberFull
		}
	})
	if err != nil {
		return err
	}

	d.subscribers = append(d.subscribers, c)

	d.logger.WithField("subscribers", len(d.subscribers)).Info("registered subscriber")
	return nil
}

// Unsubscribe removes a channel added by Subscribe. The channel must not be
// closed before this returns.
func (d *Dispatcher) Unsubscribe(ctx context.Context, c chan<- Event) {
	traceCtx, task := trace.NewTask(ctx, "Unsubscribe")
	defer task.End()

	trace.WithRegion(traceCtx, "Lock", d.mutex.Lock)
	defer d.mutex.Unlock()

	d.subscribers = Filter(d.subscribers, func(channel chan<- Event) bool {
		return channel != c
	})

	d.logger.WithField("subscribers", len(d.subscribers)).Info("deregistered subscriber")
}

func (d *Dispatcher) snapshotLocked() Event {
	series := make([]ViewSeries, 0, len(d.views))
	for _, view := range d.views {
		series = append(series, ViewSeries{View: view.id, Points: view.series.Render()})
	}

	return Event{
		Kind:   EventSnapshot,
		Series: series,
		Lines:  d.console.Lines(),
		State:  d.stateLocked(),
	}
}

func (d *Dispatcher) broadcastLocked(event Event) {
	for _, c := range d.subscribers {
		select {
		case c <- event:
		default:
			d.stats.DroppedEvents++
			d.logger.WithField("kind", event.Kind).Warn("subscriber channel full, dropping event")
		}
	}
}
