package client

import "context"

// QuotaChecker decides whether an owner may spend credits on another attempt.
// Billing lives outside this service; it is consulted, never updated, here.
type QuotaChecker interface {
	HasRetryQuota(ctx context.Context, ownerID string) (bool, error)
}

// UnlimitedQuota approves every request.
type UnlimitedQuota struct{}

func (UnlimitedQuota) HasRetryQuota(context.Context, string) (bool, error) {
	return true, nil
}

// QuotaFunc adapts a function to QuotaChecker.
type QuotaFunc func(ctx context.Context, ownerID string) (bool, error)

func (f QuotaFunc) HasRetryQuota(ctx context.Context, ownerID string) (bool, error) {
	return f(ctx, ownerID)
}
