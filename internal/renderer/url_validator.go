package renderer

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"

	"github.com/RezaEskandarii/shotfire/custom_errors"
)

var blockedHostSuffixes = []string{".local", ".internal", ".localhost"}

// URLValidator keeps render targets on the public internet. Validate runs a
// static check of the URL and, when preflight is on, a HEAD request through
// a safeurl client that refuses to connect to private addresses after DNS
// resolution.
type URLValidator struct {
	preflight bool
	client    *http.Client
}

func NewURLValidator(preflight bool, timeout time.Duration) *URLValidator {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetCheckRedirect(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}).
		Build()
	return &URLValidator{
		preflight: preflight,
		client:    safeurl.Client(cfg).Client,
	}
}

func (v *URLValidator) Validate(ctx context.Context, raw string) error {
	if err := validateStatic(raw); err != nil {
		return err
	}
	if !v.preflight {
		return nil
	}
	return v.check(ctx, raw)
}

func (v *URLValidator) check(ctx context.Context, raw string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, raw, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", custom_errors.ErrURLRejected, err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", custom_errors.ErrURLRejected, err)
	}
	resp.Body.Close()
	return nil
}

func validateStatic(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", custom_errors.ErrURLRejected, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", custom_errors.ErrURLRejected, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", custom_errors.ErrURLRejected)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in url", custom_errors.ErrURLRejected)
	}
	if host == "localhost" {
		return fmt.Errorf("%w: host %s", custom_errors.ErrURLRejected, host)
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("%w: host %s", custom_errors.ErrURLRejected, host)
		}
	}
	if ip := net.ParseIP(host); ip != nil && !isPublicIP(ip) {
		return fmt.Errorf("%w: address %s is not public", custom_errors.ErrURLRejected, ip)
	}
	return nil
}

func isPublicIP(ip net.IP) bool {
	return !(ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast())
}
