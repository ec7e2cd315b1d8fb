package session

import (
	"sync"
	"time"
)

// DefaultIdleTimeout is the grace period before an idle session disconnects.
const DefaultIdleTimeout = 3 * time.Minute

// Supervisor keeps at most one inactivity timer per guild. When a timer
// fires it calls the expire callback with the guild ID; the callback is
// expected to re-check the session before tearing anything down.
//
// Only the most recently armed timer of a guild can reach the callback:
// arming or cancelling invalidates any earlier timer even if it has
// already fired and is waiting for the lock.
//
// All methods are safe for concurrent use.
type Supervisor struct {
	expire func(guildID string)

	mu     sync.Mutex
	grace  time.Duration
	seq    uint64
	timers map[string]armed
}

type armed struct {
	timer *time.Timer
	seq   uint64
}

// NewSupervisor returns a Supervisor that calls expire after grace of
// inactivity. A non-positive grace uses [DefaultIdleTimeout].
func NewSupervisor(grace time.Duration, expire func(guildID string)) *Supervisor {
	if grace <= 0 {
		grace = DefaultIdleTimeout
	}
	return &Supervisor{
		expire: expire,
		grace:  grace,
		timers: make(map[string]armed),
	}
}

// Arm cancels the guild's timer, if any, and starts a new one for the
// full grace period.
func (s *Supervisor) Arm(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(guildID, s.grace)
}

// ArmAfter is [Supervisor.Arm] with an explicit delay.
func (s *Supervisor) ArmAfter(guildID string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(guildID, d)
}

func (s *Supervisor) armLocked(guildID string, d time.Duration) {
	if old, ok := s.timers[guildID]; ok {
		old.timer.Stop()
	}
	s.seq++
	seq := s.seq
	s.timers[guildID] = armed{
		timer: time.AfterFunc(d, func() { s.fire(guildID, seq) }),
		seq:   seq,
	}
}

func (s *Supervisor) fire(guildID string, seq uint64) {
	s.mu.Lock()
	if cur, ok := s.timers[guildID]; !ok || cur.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.timers, guildID)
	s.mu.Unlock()

	s.expire(guildID)
}

// Cancel stops the guild's timer. It is a no-op when none is pending.
func (s *Supervisor) Cancel(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.timers[guildID]; ok {
		cur.timer.Stop()
		delete(s.timers, guildID)
	}
}

// Pending reports whether the guild has a live timer.
func (s *Supervisor) Pending(guildID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[guildID]
	return ok
}

// SetGrace changes the grace period for timers armed from now on.
func (s *Supervisor) SetGrace(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.grace = d
	s.mu.Unlock()
}

// Grace returns the current grace period.
func (s *Supervisor) Grace() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grace
}
