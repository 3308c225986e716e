package expand

import (
	"context"

	"github.com/JakeFAU/feedharvest/internal/crawler"
)

// Disabled is the "none" backend: the full text is never available.
type Disabled struct{}

// Expand implements crawler.Expander.
func (Disabled) Expand(context.Context, string) (string, error) {
	return "", crawler.ErrNotAvailable
}
