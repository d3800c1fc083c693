// internal/catalog/service.go
package catalog

import (
	"context"

	"libracatalog/internal/eventstore"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddItem(ctx context.Context, title, category, creator string, kind Kind) (*Item, error)
	GetItem(ctx context.Context, id int) (*Item, error)
	CheckoutItem(ctx context.Context, id int, daysToDue int) (*Item, error)
	ReturnItem(ctx context.Context, id int) (*Receipt, error)
	Search(ctx context.Context, term string) ([]*Item, error)
	ListAvailable(ctx context.Context) ([]*Item, error)
	ListCheckedOut(ctx context.Context) ([]*Item, error)
	History(ctx context.Context, id int) ([]eventstore.Event, error)
}
