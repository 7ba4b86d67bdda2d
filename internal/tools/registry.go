package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kory/internal/logging"
)

// Registry holds the named tools and executes calls with the per-invocation
// timeout from the tool context.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Executor
	logger logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]Executor),
		logger: logging.NewComponentLogger("tools"),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Metadata().Name
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already exists: %s", name)
	}
	r.tools[name] = tool
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tool, ok := r.tools[name]; ok {
		return tool, nil
	}
	return nil, fmt.Errorf("tool not found: %s", name)
}

// GetToolDefsForRole returns the definitions of every tool visible to role,
// for provider tool announcement.
func (r *Registry) GetToolDefsForRole(role string) []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []ToolDefinition
	for _, tool := range r.tools {
		if tool.Metadata().AllowsRole(role) {
			defs = append(defs, tool.Definition())
		}
	}
	return defs
}

// Execute runs a call against the named tool. Tool failures come back as a
// result with Error set; only an unknown tool or a role violation produces a
// synthetic error result directly.
func (r *Registry) Execute(ctx context.Context, role string, call ToolCall) *ToolResult {
	start := time.Now()

	tool, err := r.Get(call.Name)
	if err != nil {
		return &ToolResult{CallID: call.ID, Error: err}
	}
	if !tool.Metadata().AllowsRole(role) {
		return &ToolResult{CallID: call.ID, Error: fmt.Errorf("tool %s not available to role %s", call.Name, role)}
	}

	tc := FromContext(ctx)
	timeout := tc.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, execErr := tool.Execute(execCtx, call)
	if result == nil {
		result = &ToolResult{CallID: call.ID}
	}
	if execErr != nil && result.Error == nil {
		result.Error = execErr
	}
	if execCtx.Err() == context.DeadlineExceeded && result.Error == nil {
		result.Error = fmt.Errorf("tool %s timed out after %s", call.Name, timeout)
	}
	result.DurationMs = time.Since(start).Milliseconds()

	if result.Error != nil {
		r.logger.Warn("tool %s failed after %dms: %v", call.Name, result.DurationMs, result.Error)
	} else {
		r.logger.Debug("tool %s completed in %dms", call.Name, result.DurationMs)
	}
	return result
}
