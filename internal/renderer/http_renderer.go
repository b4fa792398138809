package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/RezaEskandarii/shotfire/custom_errors"
	"github.com/RezaEskandarii/shotfire/types"
)

const maxErrorBody = 4 << 10

// HTTPRenderer posts render requests to the browser pool service.
type HTTPRenderer struct {
	endpoint  string
	client    *http.Client
	validator *URLValidator
}

type HTTPRendererOption func(*HTTPRenderer)

// WithHTTPClient replaces the default client. Its Timeout bounds the whole render.
func WithHTTPClient(c *http.Client) HTTPRendererOption {
	return func(r *HTTPRenderer) { r.client = c }
}

// WithURLValidator re-checks the target URL before each attempt, since DNS
// answers may have changed since the job was submitted.
func WithURLValidator(v *URLValidator) HTTPRendererOption {
	return func(r *HTTPRenderer) { r.validator = v }
}

func NewHTTPRenderer(endpoint string, timeout time.Duration, opts ...HTTPRendererOption) *HTTPRenderer {
	r := &HTTPRenderer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type renderResponse struct {
	ResultReference  string `json:"resultReference"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

func (r *HTTPRenderer) Render(ctx context.Context, req types.RenderRequest) (types.RenderResult, error) {
	if r.validator != nil {
		if err := r.validator.Validate(ctx, req.URL); err != nil {
			return types.RenderResult{}, custom_errors.WrapRenderError(custom_errors.CategorySecurity, "target url rejected", err)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return types.RenderResult{}, custom_errors.WrapRenderError(custom_errors.CategoryValidation, "encode render request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return types.RenderResult{}, fmt.Errorf("build render request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		// Transport errors keep their type so Classify can tell a timeout
		// from a refused connection.
		return types.RenderResult{}, fmt.Errorf("call renderer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := fmt.Sprintf("renderer returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
		return types.RenderResult{}, custom_errors.NewRenderError(categoryForStatus(resp.StatusCode), msg)
	}

	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.RenderResult{}, custom_errors.WrapRenderError(custom_errors.CategoryUpstream, "decode renderer response", err)
	}
	if out.ResultReference == "" {
		return types.RenderResult{}, custom_errors.NewRenderError(custom_errors.CategoryUpstream, "renderer response has no result reference")
	}
	if out.ProcessingTimeMs <= 0 {
		out.ProcessingTimeMs = time.Since(started).Milliseconds()
	}
	return types.RenderResult{ResultReference: out.ResultReference, ProcessingTimeMs: out.ProcessingTimeMs}, nil
}

func categoryForStatus(code int) custom_errors.Category {
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return custom_errors.CategoryTimeout
	case code == http.StatusTooManyRequests || code >= 500:
		return custom_errors.CategoryUpstream
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return custom_errors.CategoryPermission
	case code >= 400:
		return custom_errors.CategoryValidation
	}
	return custom_errors.CategoryUpstream
}
