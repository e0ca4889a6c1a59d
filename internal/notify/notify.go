// Package notify plays an attention sound when a main session goes idle or
// asks for permission. Idle sounds are debounced per session so a session
// that turns busy again within the delay stays quiet.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/badri/wtsession/internal/hostsession"
	"github.com/badri/wtsession/internal/logging"
)

type pending struct {
	timer Timer
}

// State is the companion's per-process context: one outstanding idle timer
// per session and a memo of which sessions are main sessions.
type State struct {
	sessions hostsession.Client
	player   Player
	clock    Clock
	delay    time.Duration

	mu     sync.Mutex
	timers map[string]*pending
	isMain map[string]bool
	log    *logrus.Entry
}

// NewState creates a State that plays through player after delay.
func NewState(sessions hostsession.Client, player Player, delay time.Duration) *State {
	return &State{
		sessions: sessions,
		player:   player,
		clock:    realClock{},
		delay:    delay,
		timers:   make(map[string]*pending),
		isMain:   make(map[string]bool),
		log:      logging.NewLogger("notify"),
	}
}

// WithClock replaces the clock, for tests.
func (s *State) WithClock(c Clock) *State {
	s.clock = c
	return s
}

// Handle reacts to one host event.
func (s *State) Handle(ctx context.Context, ev hostsession.Event) {
	kind := ParseKind(ev.Type)
	id := ev.SessionID()
	log := s.log.WithField("event", kind).WithField("session", id)

	switch kind {
	case SessionBusy:
		s.cancel(id)
	case SessionIdle:
		if id == "" {
			return
		}
		s.cancel(id)
		if !s.mainSession(ctx, id) {
			log.Debug("child session idle, staying quiet")
			return
		}
		s.schedule(id)
	case PermissionAsked:
		s.playNow(ctx)
	case SessionDeleted:
		s.cancel(id)
		s.mu.Lock()
		delete(s.isMain, id)
		s.mu.Unlock()
	case Unknown:
		log.WithField("type", ev.Type).Trace("ignored event")
	}
}

// Pending reports whether an idle sound is scheduled for a session.
func (s *State) Pending(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[sessionID]
	return ok
}

// Close cancels every scheduled sound.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *State) cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.timers[id]; ok {
		p.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *State) schedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[id]; ok {
		old.timer.Stop()
	}
	p := &pending{}
	p.timer = s.clock.AfterFunc(s.delay, func() { s.fire(id, p) })
	s.timers[id] = p
}

// fire plays the sound unless p was cancelled or replaced after the timer
// had already started.
func (s *State) fire(id string, p *pending) {
	s.mu.Lock()
	if s.timers[id] != p {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.mu.Unlock()

	s.playNow(context.Background())
}

func (s *State) playNow(ctx context.Context) {
	if err := s.player.Play(ctx); err != nil {
		s.log.WithError(err).Warn("playing notification failed")
	}
}

// mainSession reports whether id has no parent. A failed lookup counts as
// main, and is not remembered.
func (s *State) mainSession(ctx context.Context, id string) bool {
	s.mu.Lock()
	main, ok := s.isMain[id]
	s.mu.Unlock()
	if ok {
		return main
	}

	sess, err := s.sessions.Get(ctx, id, "")
	if err != nil || sess == nil {
		return true
	}
	main = sess.ParentID == ""

	s.mu.Lock()
	s.isMain[id] = main
	s.mu.Unlock()
	return main
}

// EventSource streams host events.
type EventSource interface {
	Events(ctx context.Context) (<-chan hostsession.Event, error)
}

// Run feeds events from src into s until ctx is cancelled, reconnecting
// after retry whenever the stream fails or ends. Scheduled sounds are
// cancelled on return.
func Run(ctx context.Context, src EventSource, s *State, retry time.Duration) error {
	defer s.Close()

	for {
		events, err := src.Events(ctx)
		if err != nil {
			s.log.WithError(err).Warn("event stream unavailable")
		} else {
			s.log.Info("listening for session events")
			for ev := range events {
				s.Handle(ctx, ev)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retry):
		}
	}
}
