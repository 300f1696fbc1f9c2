// Package categorizer defines the port through which articles are labeled
// by an external categorization service.
package categorizer

import (
	"context"
	"errors"

	"github.com/JakeFAU/factcheck-aggregator/internal/article"
	"github.com/JakeFAU/factcheck-aggregator/internal/topics"
)

// ErrCategorization wraps every per-call failure: transport errors, timeouts,
// malformed responses, and labels outside the taxonomy.
var ErrCategorization = errors.New("categorization failed")

// Categorizer assigns one taxonomy label to one article. Implementations are
// stateless per call and do not retry.
type Categorizer interface {
	Classify(ctx context.Context, content article.Content) (topics.Label, error)
}

// Func adapts a function to the Categorizer interface.
type Func func(ctx context.Context, content article.Content) (topics.Label, error)

// Classify implements Categorizer.
func (f Func) Classify(ctx context.Context, content article.Content) (topics.Label, error) {
	return f(ctx, content)
}
