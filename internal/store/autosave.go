package store

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/icco/abcd/internal/logging"
	"github.com/icco/abcd/internal/practice"
)

// DefaultSaveDelay is how long the autosaver waits after the last change.
const DefaultSaveDelay = 3000 * time.Millisecond

const saveTimeout = 5 * time.Second

// Autosaver writes engine notifications to the store. Track changes are
// debounced; completed cycles are written at once.
type Autosaver struct {
	store *Store
	delay time.Duration
	clock practice.Clock
	log   *logrus.Entry

	mu      sync.Mutex
	pending *TrackState
	timer   practice.Timer
}

// NewAutosaver creates an autosaver. A nil clock uses wall time.
func NewAutosaver(s *Store, delay time.Duration, clock practice.Clock) *Autosaver {
	if delay <= 0 {
		delay = DefaultSaveDelay
	}
	if clock == nil {
		clock = wallClock{}
	}
	return &Autosaver{store: s, delay: delay, clock: clock, log: logging.For("store")}
}

// Handle is an engine subscriber.
func (a *Autosaver) Handle(ev practice.Event) {
	switch ev := ev.(type) {
	case practice.StateChanged:
		ts := FromEvent(ev)
		a.mu.Lock()
		a.pending = &ts
		if a.timer != nil {
			a.timer.Stop()
		}
		a.timer = a.clock.AfterFunc(a.delay, a.Flush)
		a.mu.Unlock()
	case practice.CycleCompleted:
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		id, err := a.store.InsertSession(ctx, Session{
			TrackID:    ev.TrackID,
			StartedAt:  ev.Started,
			FinishedAt: ev.Finished,
			BPM:        ev.BPM,
			Phases:     ev.Phases,
		})
		if err != nil {
			a.log.WithError(err).Error("failed to record session")
			return
		}
		a.log.WithField("session", id).Info("session recorded")
	}
}

// Flush writes the pending track state now.
func (a *Autosaver) Flush() {
	a.mu.Lock()
	ts := a.pending
	a.pending = nil
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()
	if ts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := a.store.SaveTrack(ctx, *ts); err != nil {
		a.log.WithError(err).WithField("track", ts.ID).Error("autosave failed")
		return
	}
	a.log.WithField("track", ts.ID).Debug("track saved")
}

// Close writes anything still pending.
func (a *Autosaver) Close() {
	a.Flush()
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) AfterFunc(d time.Duration, f func()) practice.Timer {
	return time.AfterFunc(d, f)
}
