package notify

import (
	"context"

	"hearthd/internal/model"
	"hearthd/internal/storage"
)

// StoreSink records every delivered notification in the notifications table,
// which backs the in-app notification feed.
type StoreSink struct {
	store storage.Store
}

func NewStoreSink(store storage.Store) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(ctx context.Context, n model.Notification) error {
	return s.store.InsertNotification(ctx, n)
}
