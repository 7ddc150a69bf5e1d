package service

import (
	"sync"

	"github.com/everwear/tryonbot/internal/models"
)

type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingModelChoice
	StateComposing
)

// Session is the in-memory workflow position for one user. Entitlement
// remembers which budget admitted the current flow so the deferred paid
// decrement and the refund path know what to do.
type Session struct {
	State       SessionState
	Entitlement models.Entitlement
}

type SessionManager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[int64]*Session),
	}
}

func (m *SessionManager) Get(userID int64) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		return *s
	}
	return Session{State: StateIdle}
}

func (m *SessionManager) Set(userID int64, session Session) {
	m.mu.Lock()
	m.sessions[userID] = &session
	m.mu.Unlock()
}

func (m *SessionManager) Reset(userID int64) {
	m.Set(userID, Session{State: StateIdle})
}

// BeginCompose transitions AWAITING_MODEL_CHOICE to COMPOSING and reports
// whether the transition happened. The check-and-set runs under the lock,
// which is what keeps at most one composition in flight per user.
func (m *SessionManager) BeginCompose(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok || s.State != StateAwaitingModelChoice {
		return false
	}
	s.State = StateComposing
	return true
}
