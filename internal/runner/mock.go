package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Call records one invocation made through MockRunner.
type Call struct {
	Dir  string
	Name string
	Args []string
}

// Line is the call rendered as a single command line.
func (c Call) Line() string {
	return CommandLine(c.Name, c.Args...)
}

// MockRunner is a mock implementation of Runner for testing. Responses are
// keyed by the full command line; Handler, when set, is consulted first.
type MockRunner struct {
	mu        sync.Mutex
	Responses map[string]Result
	Handler   func(call Call) (Result, bool)
	Paths     map[string]string
	Calls     []Call
}

// NewMockRunner creates a MockRunner with no responses.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		Responses: make(map[string]Result),
		Paths:     make(map[string]string),
	}
}

// On registers the result returned for an exact command line.
func (m *MockRunner) On(line string, res Result) *MockRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[line] = res
	return m
}

// OnOK registers a successful result with the given stdout.
func (m *MockRunner) OnOK(line, stdout string) *MockRunner {
	return m.On(line, Result{Stdout: stdout})
}

// OnFail registers a failing result with the given stderr.
func (m *MockRunner) OnFail(line, stderr string) *MockRunner {
	return m.On(line, Result{Code: 1, Stderr: stderr})
}

// WithPath makes LookPath succeed for file.
func (m *MockRunner) WithPath(file string) *MockRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Paths[file] = "/usr/bin/" + file
	return m
}

func (m *MockRunner) Run(_ context.Context, dir, name string, args ...string) Result {
	call := Call{Dir: dir, Name: name, Args: append([]string(nil), args...)}

	m.mu.Lock()
	m.Calls = append(m.Calls, call)
	handler := m.Handler
	res, ok := m.Responses[call.Line()]
	m.mu.Unlock()

	if handler != nil {
		if hres, handled := handler(call); handled {
			return hres
		}
	}
	if ok {
		return res
	}
	return Result{Code: 127, Stderr: fmt.Sprintf("mock: no response for %q", call.Line())}
}

func (m *MockRunner) LookPath(file string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.Paths[file]; ok {
		return p, nil
	}
	return "", fmt.Errorf("exec: %q: executable file not found in $PATH", file)
}

// Called reports whether a command line starting with prefix was run.
func (m *MockRunner) Called(prefix string) bool {
	return m.CallCount(prefix) > 0
}

// CallCount counts runs whose command line starts with prefix.
func (m *MockRunner) CallCount(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if strings.HasPrefix(c.Line(), prefix) {
			n++
		}
	}
	return n
}
