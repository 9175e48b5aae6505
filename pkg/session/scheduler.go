package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultRetention is how long a completed session stays queryable before
// the scheduler purges it.
const DefaultRetention = 300 * time.Second

// ExpiryScheduler purges sessions from the registry after a grace window.
// Multiple schedules for the same call ID are tolerated; removal is
// idempotent so only the first timer to fire does any work.
type ExpiryScheduler struct {
	logger   *logrus.Logger
	registry *Registry

	mu     sync.Mutex
	timers map[string][]*time.Timer
	closed bool
}

// NewExpiryScheduler creates a scheduler bound to a registry.
func NewExpiryScheduler(logger *logrus.Logger, registry *Registry) *ExpiryScheduler {
	return &ExpiryScheduler{
		logger:   logger,
		registry: registry,
		timers:   make(map[string][]*time.Timer),
	}
}

// ScheduleExpiry arranges removal of the session after delay. If the session
// is already gone when the timer fires, nothing happens.
func (s *ExpiryScheduler) ScheduleExpiry(callID string, delay time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.expire(callID, timer)
	})
	s.timers[callID] = append(s.timers[callID], timer)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"delay":   delay,
	}).Debug("Scheduled session expiry")
}

func (s *ExpiryScheduler) expire(callID string, timer *time.Timer) {
	s.forget(callID, timer)

	if s.registry.Remove(callID) {
		s.logger.WithField("call_id", callID).Info("Expired call session after retention window")
	}
}

// forget drops a fired timer from the tracking map.
func (s *ExpiryScheduler) forget(callID string, timer *time.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timers := s.timers[callID]
	for i, t := range timers {
		if t == timer {
			timers = append(timers[:i], timers[i+1:]...)
			break
		}
	}
	if len(timers) == 0 {
		delete(s.timers, callID)
	} else {
		s.timers[callID] = timers
	}
}

// SweepStale removes sessions that never progressed past establishing within
// maxAge. Returns the number of sessions removed.
func (s *ExpiryScheduler) SweepStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for id, sess := range s.registry.ListAll() {
		if sess.Status != StatusEstablishing || sess.StartTime.After(cutoff) {
			continue
		}
		if s.registry.Remove(id) {
			removed++
			s.logger.WithFields(logrus.Fields{
				"call_id":    id,
				"start_time": sess.StartTime,
			}).Warn("Swept stale establishing session")
		}
	}
	return removed
}

// Stop cancels all outstanding timers. Pending expiries are abandoned.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, timers := range s.timers {
		for _, t := range timers {
			t.Stop()
		}
	}
	s.timers = make(map[string][]*time.Timer)
}
