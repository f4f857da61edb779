package facade

import (
	"context"

	"github.com/cesmii/i3x/subscription"
	"github.com/cesmii/i3x/types"
)

// CreateSubscription allocates a new active subscription.
func (f *Facade) CreateSubscription(ctx context.Context) (subscription.Summary, error) {
	if err := f.allow(ctx, CapabilitySubscribe); err != nil {
		return subscription.Summary{}, err
	}
	return f.subs.Create()
}

// Subscriptions lists all live subscriptions.
func (f *Facade) Subscriptions(ctx context.Context) ([]subscription.Summary, error) {
	if err := f.allow(ctx, CapabilitySubscribe); err != nil {
		return nil, err
	}
	return f.subs.List(), nil
}

// Subscription returns one subscription's detail.
func (f *Facade) Subscription(ctx context.Context, id string) (subscription.Summary, error) {
	if err := f.allow(ctx, CapabilitySubscribe); err != nil {
		return subscription.Summary{}, err
	}
	return f.subs.Get(id)
}

// DeleteSubscription closes a subscription. Idempotent.
func (f *Facade) DeleteSubscription(ctx context.Context, id string) error {
	if err := f.allow(ctx, CapabilitySubscribe); err != nil {
		return err
	}
	f.subs.Delete(id)
	return nil
}

// RegisterItems adds elements to a subscription's watch list. Elements that
// do not resolve are skipped, not failed.
func (f *Facade) RegisterItems(ctx context.Context, id string, elementIDs []string, maxDepth int) (registered, skipped []string, err error) {
	if err := f.allow(ctx, CapabilitySubscribe); err != nil {
		return nil, nil, err
	}
	return f.subs.Register(id, elementIDs, maxDepth)
}

// UnregisterItems removes elements from a subscription's watch list.
func (f *Facade) UnregisterItems(ctx context.Context, id string, elementIDs []string) ([]string, error) {
	if err := f.allow(ctx, CapabilitySubscribe); err != nil {
		return nil, err
	}
	return f.subs.Unregister(id, elementIDs)
}

// SyncSubscription atomically drains a subscription's queue.
func (f *Facade) SyncSubscription(ctx context.Context, id string) (subscription.SyncResult, error) {
	if err := f.allow(ctx, CapabilitySubscribe); err != nil {
		return subscription.SyncResult{}, err
	}
	return f.subs.Sync(id)
}

// AttachStream switches a subscription to push delivery.
func (f *Facade) AttachStream(ctx context.Context, id string) (<-chan types.ChangeEvent, func(), error) {
	if err := f.allow(ctx, CapabilitySubscribe); err != nil {
		return nil, nil, err
	}
	return f.subs.AttachStream(ctx, id)
}
