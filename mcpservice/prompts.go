package mcpservice

import (
	"sync"

	"github.com/ggoodman/mcp-tasks-go/mcp"
)

// PromptsContainer is a mutable set of prompt descriptors.
type PromptsContainer struct {
	mu       sync.RWMutex
	prompts  []mcp.Prompt
	notifier ChangeNotifier
}

func NewPromptsContainer(prompts ...mcp.Prompt) *PromptsContainer {
	pc := &PromptsContainer{}
	pc.prompts = append(pc.prompts, prompts...)
	return pc
}

// Upsert adds p or replaces the prompt with the same name in place.
func (pc *PromptsContainer) Upsert(p mcp.Prompt) {
	pc.mu.Lock()
	replaced := false
	for i := range pc.prompts {
		if pc.prompts[i].Name == p.Name {
			pc.prompts[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		pc.prompts = append(pc.prompts, p)
	}
	pc.mu.Unlock()
	pc.notifier.Notify()
}

func (pc *PromptsContainer) Remove(name string) bool {
	pc.mu.Lock()
	removed := false
	kept := pc.prompts[:0]
	for _, p := range pc.prompts {
		if p.Name == name {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	pc.prompts = kept
	pc.mu.Unlock()
	if removed {
		pc.notifier.Notify()
	}
	return removed
}

func (pc *PromptsContainer) Snapshot() []mcp.Prompt {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	out := make([]mcp.Prompt, len(pc.prompts))
	copy(out, pc.prompts)
	return out
}

func (pc *PromptsContainer) Subscriber() <-chan struct{} { return pc.notifier.Subscriber() }
