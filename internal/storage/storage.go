package storage

import (
	"sort"
	"sync"

	"github.com/greenshelf/strainscan/internal/models"
)

// SessionStore keeps snapshots of scan sessions for the HTTP surface. Values
// are copied on the way in and out so callers never share a session.
type SessionStore struct {
	sessions map[string]*models.ScanSession
	mu       sync.RWMutex
}

func New() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*models.ScanSession),
	}
}

func (s *SessionStore) Get(sessionID string) (*models.ScanSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, exists := s.sessions[sessionID]
	return session.Clone(), exists
}

func (s *SessionStore) Set(session *models.ScanSession) {
	if session == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session.Clone()
}

// List returns every stored session, newest first
func (s *SessionStore) List() []*models.ScanSession {
	s.mu.RLock()
	result := make([]*models.ScanSession, 0, len(s.sessions))
	for _, v := range s.sessions {
		result = append(result, v.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result
}

func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}
