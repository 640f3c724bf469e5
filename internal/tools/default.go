package tools

import (
	"fmt"
	"time"

	"golang.org/x/text/language"

	"github.com/ZhyangJ/Agent-chat/internal/diag"
)

// DefaultCatalog is the set of tools advertised to the model, in order.
var DefaultCatalog = []string{
	"calculate",
	"getCurrentTime",
	"searchWeb",
	"textProcess",
	"logReasoningStep",
	"clearReasoningLog",
	"logErrorAndSuggestFix",
}

// DefaultOptions carries the collaborators of the default catalog.
type DefaultOptions struct {
	Searcher Searcher
	Diag     diag.Store
	Locale   language.Tag
	Location *time.Location
}

// NewDefaultRegistry registers the default catalog and verifies that the
// advertised names and the registered tools agree.
func NewDefaultRegistry(opts DefaultOptions) (*Registry, error) {
	if opts.Searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if opts.Diag == nil {
		opts.Diag = diag.NewMemoryStore()
	}

	registry := NewRegistry()
	for _, tool := range []Tool{
		NewCalculateTool(),
		NewCurrentTimeTool(opts.Locale, opts.Location),
		NewWebSearchTool(opts.Searcher),
		NewTextProcessTool(),
		NewReasoningStepTool(opts.Diag),
		NewClearReasoningTool(opts.Diag),
		NewErrorSuggestionTool(opts.Diag),
	} {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("register %s: %w", tool.Name(), err)
		}
	}

	if err := registry.VerifyCatalog(DefaultCatalog); err != nil {
		return nil, fmt.Errorf("verify tool catalog: %w", err)
	}
	return registry, nil
}
