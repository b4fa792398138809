package renderer

import (
	"context"

	"github.com/RezaEskandarii/shotfire/types"
)

// Renderer turns a RenderRequest into a stored artifact. Failures are
// returned as *custom_errors.RenderError when the category is known.
type Renderer interface {
	Render(ctx context.Context, req types.RenderRequest) (types.RenderResult, error)
}
