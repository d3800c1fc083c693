package catalog

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"libracatalog/internal/circulation"
)

// fakeClock is a settable "today" for simulating elapsed days.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AdvanceDays(days int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, days)
}

// tb is satisfied by both *testing.T and *rapid.T.
type tb interface {
	Helper()
	require.TestingT
}

func newTestService(t tb, clock *fakeClock, opts ...Option) Service {
	t.Helper()
	svc, err := NewService(append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return svc
}

func seed(t tb, svc Service) {
	t.Helper()
	ctx := context.Background()
	for _, it := range []struct {
		title, category, creator string
		kind                     Kind
	}{
		{"The Great Gatsby", "Fiction", "F. Scott Fitzgerald", Book},
		{"National Geographic", "Magazine", "Various", Magazine},
		{"The Dark Knight", "Action", "Christopher Nolan", DVD},
	} {
		_, err := svc.AddItem(ctx, it.title, it.category, it.creator, it.kind)
		require.NoError(t, err)
	}
}

func ids(items []*Item) []int {
	out := make([]int, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestNewServiceRejectsInvalidPolicy(t *testing.T) {
	_, err := NewService(WithPolicy(circulation.Policy{LoanDays: -1}))
	assert.ErrorIs(t, err, circulation.ErrInvalidPolicy)
}

func TestGatsbyWalkthrough(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := newTestService(t, clock)

	item, err := svc.AddItem(ctx, "The Great Gatsby", "Fiction", "F. Scott Fitzgerald", Book)
	require.NoError(t, err)
	assert.Equal(t, 1, item.ID)
	assert.False(t, item.CheckedOut)

	out, err := svc.CheckoutItem(ctx, 1, circulation.DefaultLoanDays)
	require.NoError(t, err)
	require.NotNil(t, out.DueDate)
	assert.Equal(t, circulation.Date(clock.Now()).AddDate(0, 0, 14), *out.DueDate)

	_, err = svc.CheckoutItem(ctx, 1, circulation.DefaultLoanDays)
	assert.ErrorIs(t, err, ErrAlreadyCheckedOut)

	receipt, err := svc.ReturnItem(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, receipt.Fine)
	assert.Equal(t, "The Great Gatsby", receipt.Title)
}

func TestAddItemRejectsInvalidKind(t *testing.T) {
	svc := newTestService(t, newFakeClock())

	_, err := svc.AddItem(context.Background(), "Tape", "Music", "Someone", Kind(42))
	assert.ErrorIs(t, err, ErrInvalidKind)

	all, err := svc.Search(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, all)

	item, err := svc.AddItem(context.Background(), "Tape", "Music", "Someone", DVD)
	require.NoError(t, err)
	assert.Equal(t, 1, item.ID, "a rejected add must not consume an id")
}

func TestUnknownIDIsNotFound(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeClock())
	seed(t, svc)

	_, err := svc.GetItem(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.CheckoutItem(ctx, 99, 14)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.ReturnItem(ctx, 0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.History(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckoutRejectsNegativeLoan(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeClock())
	seed(t, svc)

	_, err := svc.CheckoutItem(ctx, 1, -1)
	assert.ErrorIs(t, err, ErrInvalidLoanPeriod)

	item, err := svc.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.False(t, item.CheckedOut)
}

func TestCheckoutRejectsLoanPastLastDueDate(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := newTestService(t, clock)
	seed(t, svc)

	_, err := svc.CheckoutItem(ctx, 1, 3_000_000)
	require.ErrorIs(t, err, ErrInvalidLoanPeriod)

	item, err := svc.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.False(t, item.CheckedOut)
	assert.Nil(t, item.DueDate)
	events, err := svc.History(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	lastDay := int((circulation.LastDueDate.Unix() - circulation.Date(clock.Now()).Unix()) / 86400)
	item, err = svc.CheckoutItem(ctx, 1, lastDay)
	require.NoError(t, err)
	assert.Equal(t, circulation.LastDueDate, *item.DueDate)
}

func TestDoubleCheckoutKeepsDueDate(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := newTestService(t, clock)
	seed(t, svc)

	first, err := svc.CheckoutItem(ctx, 2, 7)
	require.NoError(t, err)

	clock.AdvanceDays(3)
	_, err = svc.CheckoutItem(ctx, 2, 30)
	require.ErrorIs(t, err, ErrAlreadyCheckedOut)

	item, err := svc.GetItem(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, *first.DueDate, *item.DueDate)
	assert.Equal(t, first.Version, item.Version)
}

func TestReturnNeverCheckedOut(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeClock())
	seed(t, svc)
	before, err := svc.GetItem(ctx, 3)
	require.NoError(t, err)

	_, err = svc.ReturnItem(ctx, 3)
	require.ErrorIs(t, err, ErrNotCheckedOut)

	after, err := svc.GetItem(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLateReturnFine(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := newTestService(t, clock)
	seed(t, svc)

	_, err := svc.CheckoutItem(ctx, 1, 14)
	require.NoError(t, err)
	clock.AdvanceDays(14 + 5)

	receipt, err := svc.ReturnItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, receipt.DaysOverdue)
	assert.Equal(t, 2.5, receipt.Fine)

	item, err := svc.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.5, item.Fine)
	assert.False(t, item.CheckedOut)
	assert.Nil(t, item.DueDate)
}

func TestCustomPolicyRate(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := newTestService(t, clock, WithPolicy(circulation.Policy{LoanDays: 7, DailyFine: 1.25}))
	seed(t, svc)

	_, err := svc.CheckoutItem(ctx, 1, 7)
	require.NoError(t, err)
	clock.AdvanceDays(9)

	receipt, err := svc.ReturnItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.5, receipt.Fine)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeClock())
	seed(t, svc)

	found, err := svc.Search(ctx, "fitzGERALD")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ids(found))

	found, err = svc.Search(ctx, "the")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, ids(found))

	found, err = svc.Search(ctx, "magazine")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ids(found))

	found, err = svc.Search(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ids(found))

	found, err = svc.Search(ctx, "zzz")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestListsPartitionItems(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeClock())
	seed(t, svc)

	_, err := svc.CheckoutItem(ctx, 2, 14)
	require.NoError(t, err)

	available, err := svc.ListAvailable(ctx)
	require.NoError(t, err)
	checkedOut, err := svc.ListCheckedOut(ctx)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, ids(available))
	assert.Equal(t, []int{2}, ids(checkedOut))
}

func TestReturnedItemsAreCopies(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeClock())
	seed(t, svc)

	out, err := svc.CheckoutItem(ctx, 1, 14)
	require.NoError(t, err)
	out.Title = "changed"
	*out.DueDate = out.DueDate.AddDate(1, 0, 0)

	item, err := svc.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "The Great Gatsby", item.Title)
	assert.NotEqual(t, *out.DueDate, *item.DueDate)
}

func TestHistoryRecordsTransitions(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := newTestService(t, clock)
	seed(t, svc)

	_, err := svc.CheckoutItem(ctx, 1, 2)
	require.NoError(t, err)
	clock.AdvanceDays(4)
	_, err = svc.ReturnItem(ctx, 1)
	require.NoError(t, err)

	events, err := svc.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventItemAdded, events[0].EventType)
	assert.Equal(t, EventItemCheckedOut, events[1].EventType)
	assert.Equal(t, EventItemReturned, events[2].EventType)

	var returned ItemReturnedEvent
	require.NoError(t, json.Unmarshal(events[2].EventData, &returned))
	assert.Equal(t, 2, returned.DaysOverdue)
	assert.Equal(t, 1.0, returned.Fine)

	item, err := svc.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, item.Version)
}

func TestConcurrentCheckoutPreventsDoubleLending(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeClock())
	seed(t, svc)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CheckoutItem(ctx, 1, 14); err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successCount, "only one concurrent checkout should succeed")
}

func TestIDsAreSequential(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		svc := newTestService(t, newFakeClock())
		n := rapid.IntRange(0, 50).Draw(t, "n")

		for i := 1; i <= n; i++ {
			item, err := svc.AddItem(context.Background(), "t", "c", "a", rapid.SampledFrom(Kinds()).Draw(t, "kind"))
			if err != nil {
				t.Fatalf("add: %v", err)
			}
			if item.ID != i {
				t.Fatalf("item %d got id %d", i, item.ID)
			}
		}
	})
}

func TestFineAfterLateDays(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		clock := newFakeClock()
		svc := newTestService(t, clock)
		seed(t, svc)

		d := rapid.IntRange(0, 60).Draw(t, "daysToDue")
		k := rapid.IntRange(-d, 60).Draw(t, "daysPastDue")

		if _, err := svc.CheckoutItem(ctx, 1, d); err != nil {
			t.Fatalf("checkout: %v", err)
		}
		clock.AdvanceDays(d + k)

		receipt, err := svc.ReturnItem(ctx, 1)
		if err != nil {
			t.Fatalf("return: %v", err)
		}
		want := 0.0
		if k > 0 {
			want = 0.5 * float64(k)
		}
		if receipt.Fine != want {
			t.Fatalf("fine = %v, want %v (d=%d k=%d)", receipt.Fine, want, d, k)
		}
	})
}

// TestCatalogStateMachine drives random operations and checks the catalog
// invariants after each one.
func TestCatalogStateMachine(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		clock := newFakeClock()
		svc := newTestService(t, clock)
		total := 0

		words := []string{"Gatsby", "Nolan", "fiction", "DVD", "the", ""}

		t.Repeat(map[string]func(*rapid.T){
			"add": func(t *rapid.T) {
				kind := rapid.SampledFrom(Kinds()).Draw(t, "kind")
				title := rapid.SampledFrom(words).Draw(t, "title")
				if _, err := svc.AddItem(ctx, title, "fiction", "Nolan", kind); err != nil {
					t.Fatalf("add: %v", err)
				}
				total++
			},
			"checkout": func(t *rapid.T) {
				if total == 0 {
					t.Skip("empty catalog")
				}
				id := rapid.IntRange(1, total).Draw(t, "id")
				before, _ := svc.GetItem(ctx, id)
				_, err := svc.CheckoutItem(ctx, id, rapid.IntRange(0, 30).Draw(t, "days"))
				if before.CheckedOut && err == nil {
					t.Fatalf("checked out item %d twice", id)
				}
				if !before.CheckedOut && err != nil {
					t.Fatalf("checkout %d: %v", id, err)
				}
			},
			"return": func(t *rapid.T) {
				if total == 0 {
					t.Skip("empty catalog")
				}
				id := rapid.IntRange(1, total).Draw(t, "id")
				before, _ := svc.GetItem(ctx, id)
				_, err := svc.ReturnItem(ctx, id)
				if !before.CheckedOut && err == nil {
					t.Fatalf("returned available item %d", id)
				}
				if before.CheckedOut && err != nil {
					t.Fatalf("return %d: %v", id, err)
				}
			},
			"advance": func(t *rapid.T) {
				clock.AdvanceDays(rapid.IntRange(0, 20).Draw(t, "days"))
			},
			"": func(t *rapid.T) {
				available, _ := svc.ListAvailable(ctx)
				checkedOut, _ := svc.ListCheckedOut(ctx)
				if len(available)+len(checkedOut) != total {
					t.Fatalf("lists hold %d+%d items, want %d", len(available), len(checkedOut), total)
				}
				seen := make(map[int]bool)
				for _, it := range available {
					if it.CheckedOut || it.DueDate != nil {
						t.Fatalf("available item %d has checkout state", it.ID)
					}
					seen[it.ID] = true
				}
				for _, it := range checkedOut {
					if !it.CheckedOut || it.DueDate == nil {
						t.Fatalf("checked-out item %d has no due date", it.ID)
					}
					if seen[it.ID] {
						t.Fatalf("item %d listed twice", it.ID)
					}
				}
				if it, err := svc.Search(ctx, ""); err != nil || len(it) != total {
					t.Fatalf("empty search returned %d items, want %d", len(it), total)
				}
				term := rapid.SampledFrom(words).Draw(t, "term")
				found, _ := svc.Search(ctx, strings.ToUpper(term))
				for _, it := range found {
					if !it.Matches(term) {
						t.Fatalf("item %d does not match %q", it.ID, term)
					}
				}
			},
		})
	})
}
