package tmux

import (
	"context"
	"fmt"
)

// MockRunner is a mock implementation of Runner for testing.
type MockRunner struct {
	Inside          bool
	Windows         []MockWindow
	NewWindowErr    error
	ListErr         error
	SelectErr       error
	SelectedWindow  string
	NewWindowCalled bool
}

// MockWindow represents a mock tmux window.
type MockWindow struct {
	Name    string
	Workdir string
	Command string
}

// NewMockRunner creates a MockRunner that reports being inside tmux.
func NewMockRunner() *MockRunner {
	return &MockRunner{Inside: true}
}

func (m *MockRunner) InSession() bool {
	return m.Inside
}

func (m *MockRunner) NewWindow(_ context.Context, name, workdir, command string) error {
	m.NewWindowCalled = true
	if m.NewWindowErr != nil {
		return m.NewWindowErr
	}
	m.Windows = append(m.Windows, MockWindow{Name: name, Workdir: workdir, Command: command})
	return nil
}

func (m *MockRunner) ListWindows(context.Context) ([]string, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	names := make([]string, 0, len(m.Windows))
	for _, w := range m.Windows {
		names = append(names, w.Name)
	}
	return names, nil
}

func (m *MockRunner) SelectWindow(_ context.Context, name string) error {
	if m.SelectErr != nil {
		return m.SelectErr
	}
	for _, w := range m.Windows {
		if w.Name == name {
			m.SelectedWindow = name
			return nil
		}
	}
	return fmt.Errorf("can't find window: %s", name)
}
