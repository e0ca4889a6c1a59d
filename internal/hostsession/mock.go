package hostsession

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is an in-memory Client for tests. Sessions are keyed by id and
// visible from any directory.
type MockClient struct {
	mu        sync.Mutex
	Sessions  map[string]Session
	ForkErr   error
	CreateErr error
	GetErr    error

	ForkCalls   []string
	CreateCalls []CreateParams
	next        int
}

// NewMockClient creates a MockClient holding the given live sessions.
func NewMockClient(ids ...string) *MockClient {
	m := &MockClient{Sessions: make(map[string]Session)}
	for _, id := range ids {
		m.Sessions[id] = Session{ID: id}
	}
	return m
}

// Add registers a live session.
func (m *MockClient) Add(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions[s.ID] = s
}

// Delete removes a session, simulating the host losing it.
func (m *MockClient) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Sessions, id)
}

func (m *MockClient) Get(_ context.Context, id, _ string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	s, ok := m.Sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return &s, nil
}

func (m *MockClient) Fork(_ context.Context, parentID, directory string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ForkCalls = append(m.ForkCalls, parentID)
	if m.ForkErr != nil {
		return nil, m.ForkErr
	}
	return m.newSession(parentID, directory), nil
}

func (m *MockClient) Create(_ context.Context, params CreateParams, directory string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls = append(m.CreateCalls, params)
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	return m.newSession(params.ParentID, directory), nil
}

func (m *MockClient) newSession(parentID, directory string) *Session {
	m.next++
	s := Session{
		ID:        fmt.Sprintf("ses_mock%03d", m.next),
		ParentID:  parentID,
		Directory: directory,
	}
	m.Sessions[s.ID] = s
	return &s
}

var _ Client = (*MockClient)(nil)
