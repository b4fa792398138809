package custom_errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"syscall"
)

// Category is the closed set of failure kinds a render attempt can end with.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryTimeout
	CategoryConnection
	CategoryIO
	CategoryUpstream
	CategoryInterrupted
	CategoryValidation
	CategorySecurity
	CategoryPermission
)

var AllCategories = []Category{
	CategoryUnknown,
	CategoryTimeout,
	CategoryConnection,
	CategoryIO,
	CategoryUpstream,
	CategoryInterrupted,
	CategoryValidation,
	CategorySecurity,
	CategoryPermission,
}

func (c Category) String() string {
	switch c {
	case CategoryTimeout:
		return "timeout"
	case CategoryConnection:
		return "connection"
	case CategoryIO:
		return "io"
	case CategoryUpstream:
		return "upstream"
	case CategoryInterrupted:
		return "interrupted"
	case CategoryValidation:
		return "validation"
	case CategorySecurity:
		return "security"
	case CategoryPermission:
		return "permission"
	default:
		return "unknown"
	}
}

// ParseCategory is the inverse of String. Unrecognised names map to CategoryUnknown.
func ParseCategory(name string) Category {
	for _, c := range AllCategories {
		if c.String() == name {
			return c
		}
	}
	return CategoryUnknown
}

// RenderError is a failure tagged with its category.
type RenderError struct {
	Category Category
	Message  string
	Err      error
}

func NewRenderError(category Category, message string) *RenderError {
	return &RenderError{Category: category, Message: message}
}

func WrapRenderError(category Category, message string, err error) *RenderError {
	return &RenderError{Category: category, Message: message, Err: err}
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Classify maps an arbitrary error onto a Category. Tagged RenderErrors win;
// everything else is inferred from well-known standard library errors.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var renderErr *RenderError
	if errors.As(err, &renderErr) {
		return renderErr.Category
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return CategoryValidation
	}

	switch {
	case errors.Is(err, ErrURLRejected):
		return CategorySecurity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, context.Canceled):
		return CategoryInterrupted
	case errors.Is(err, fs.ErrPermission):
		return CategoryPermission
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return CategoryConnection
	}

	var pathErr *fs.PathError
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || errors.As(err, &pathErr) {
		return CategoryIO
	}

	return CategoryUnknown
}
