package shell

import (
	"context"
	"fmt"

	"libracatalog/internal/catalog"
)

var demoItems = []struct {
	title, category, creator string
	kind                     catalog.Kind
}{
	{"The Great Gatsby", "Fiction", "F. Scott Fitzgerald", catalog.Book},
	{"National Geographic", "Magazine", "Various", catalog.Magazine},
	{"The Dark Knight", "Action", "Christopher Nolan", catalog.DVD},
}

// Seed adds the demo collection to svc.
func Seed(ctx context.Context, svc catalog.Service) error {
	for _, it := range demoItems {
		if _, err := svc.AddItem(ctx, it.title, it.category, it.creator, it.kind); err != nil {
			return fmt.Errorf("failed to seed %q: %w", it.title, err)
		}
	}
	return nil
}
