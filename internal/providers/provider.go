package providers

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/brandviz/brandviz/internal/providers/common"
)

// AIProvider interface for the chat assistants a brand is evaluated against
type AIProvider interface {
	// Name is the BrandViz model identifier: chatgpt, claude or gemini
	Name() string
	// Model is the vendor model used for calls
	Model() string
	RunPrompt(ctx context.Context, system, prompt string) (*common.AIResponse, error)
}

// Registry resolves BrandViz models to configured providers
type Registry map[string]AIProvider

// Get returns the provider registered under name
func (r Registry) Get(name string) (AIProvider, bool) {
	p, ok := r[name]
	return p, ok
}

// Close releases every provider client that needs it
func (r Registry) Close() error {
	var errs []error
	for name, p := range r {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
