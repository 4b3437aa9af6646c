package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/OrygnsCode/ci-evidence-pack/core/tool"
)

// FakeRunner is an in-memory tool.Runner for tests. Installed names resolve
// through LookPath; Handler, when set, decides each Run result.
type FakeRunner struct {
	Installed map[string]bool
	Handler   func(command tool.Command) (tool.Output, error)

	mu    sync.Mutex
	calls []tool.Command
}

func (f *FakeRunner) LookPath(name string) (string, error) {
	if f.Installed[name] {
		return "/usr/bin/" + name, nil
	}
	return "", fmt.Errorf("%w: %s", tool.ErrNotFound, name)
}

func (f *FakeRunner) Run(_ context.Context, command tool.Command) (tool.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, command)
	f.mu.Unlock()
	if !f.Installed[command.Name] {
		return tool.Output{}, fmt.Errorf("%w: %s", tool.ErrNotFound, command.Name)
	}
	if f.Handler == nil {
		return tool.Output{}, nil
	}
	return f.Handler(command)
}

// Calls returns every command run so far, rendered as "name arg arg".
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	rendered := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		rendered = append(rendered, call.String())
	}
	return rendered
}

// CallsTo filters Calls to the commands whose name is name.
func (f *FakeRunner) CallsTo(name string) []string {
	var matched []string
	for _, call := range f.Calls() {
		if call == name || strings.HasPrefix(call, name+" ") {
			matched = append(matched, call)
		}
	}
	return matched
}
