// internal/catalog/implementation.go
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"libracatalog/internal/circulation"
	"libracatalog/internal/eventstore"
)

const aggregateType = "item"

// service implements the Service interface over a process-local collection.
type service struct {
	mu     sync.RWMutex
	items  map[int]*Item
	nextID int

	policy     circulation.Policy
	eventStore *eventstore.EventStore
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer

	itemsAdded   metric.Int64Counter
	checkouts    metric.Int64Counter
	returns      metric.Int64Counter
	finesCharged metric.Float64Counter
}

// Option configures a catalog service.
type Option func(*service)

// WithPolicy replaces the default two-week, 0.50-per-day circulation policy.
func WithPolicy(p circulation.Policy) Option {
	return func(s *service) { s.policy = p }
}

// WithClock sets the source of "today". Tests use it to simulate elapsed days.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) { s.logger = logger }
}

func WithEventStore(es *eventstore.EventStore) Option {
	return func(s *service) { s.eventStore = es }
}

// NewService creates an empty catalog. Ids start at 1.
func NewService(opts ...Option) (Service, error) {
	s := &service{
		items:  make(map[int]*Item),
		nextID: 1,
		policy: circulation.DefaultPolicy(),
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer("libracatalog/catalog"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.policy.Validate(); err != nil {
		return nil, err
	}
	if s.eventStore == nil {
		s.eventStore = eventstore.NewEventStore()
	}

	meter := otel.Meter("libracatalog/catalog")
	var err error
	if s.itemsAdded, err = meter.Int64Counter("catalog.items.added",
		metric.WithDescription("Items added to the catalog")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if s.checkouts, err = meter.Int64Counter("catalog.checkouts",
		metric.WithDescription("Successful checkouts")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if s.returns, err = meter.Int64Counter("catalog.returns",
		metric.WithDescription("Successful returns")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if s.finesCharged, err = meter.Float64Counter("catalog.fines.assessed",
		metric.WithDescription("Overdue fines assessed on return")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	return s, nil
}

func aggregateID(id int) string {
	return "item-" + strconv.Itoa(id)
}

// AddItem assigns the next id to a new, available item.
func (s *service) AddItem(ctx context.Context, title, category, creator string, kind Kind) (*Item, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.add_item")
	defer span.End()

	if !kind.Valid() {
		return nil, s.fail(span, fmt.Errorf("%w: %d", ErrInvalidKind, int(kind)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item := &Item{
		ID:       s.nextID,
		Title:    title,
		Category: category,
		Creator:  creator,
		Kind:     kind,
	}
	eventData := ItemAddedEvent{
		ID:       item.ID,
		Title:    title,
		Category: category,
		Creator:  creator,
		Kind:     kind,
	}
	if err := s.record(ctx, item, EventItemAdded, eventData); err != nil {
		return nil, s.fail(span, err)
	}

	s.items[item.ID] = item
	s.nextID++

	span.SetAttributes(attribute.Int("item.id", item.ID), attribute.String("item.kind", kind.String()))
	s.itemsAdded.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
	s.logger.InfoContext(ctx, "item added", "id", item.ID, "title", title, "kind", kind.String())
	return item.clone(), nil
}

// GetItem retrieves an item from the catalog by its ID.
func (s *service) GetItem(ctx context.Context, id int) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	return item.clone(), nil
}

// CheckoutItem lends an available item for daysToDue days. The due date may
// not pass circulation.LastDueDate.
func (s *service) CheckoutItem(ctx context.Context, id int, daysToDue int) (*Item, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.checkout_item",
		trace.WithAttributes(attribute.Int("item.id", id), attribute.Int("loan.days", daysToDue)))
	defer span.End()

	today := s.now()
	if !circulation.LoanFits(today, daysToDue) {
		return nil, s.fail(span, fmt.Errorf("%w: %d days", ErrInvalidLoanPeriod, daysToDue))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[id]
	if !ok {
		return nil, s.fail(span, fmt.Errorf("item %d: %w", id, ErrNotFound))
	}
	if current.CheckedOut {
		return nil, s.fail(span, fmt.Errorf("item %d: %w", id, ErrAlreadyCheckedOut))
	}

	next := current.clone()
	next.Checkout(today, daysToDue)

	eventData := ItemCheckedOutEvent{
		ID:       id,
		LoanDays: daysToDue,
		DueDate:  *next.DueDate,
	}
	if err := s.record(ctx, next, EventItemCheckedOut, eventData); err != nil {
		return nil, s.fail(span, err)
	}
	s.items[id] = next

	s.checkouts.Add(ctx, 1)
	s.logger.InfoContext(ctx, "item checked out", "id", id, "due_date", next.DueDate.Format(time.DateOnly))
	return next.clone(), nil
}

// ReturnItem takes a checked-out item back and assesses any overdue fine.
func (s *service) ReturnItem(ctx context.Context, id int) (*Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.return_item",
		trace.WithAttributes(attribute.Int("item.id", id)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[id]
	if !ok {
		return nil, s.fail(span, fmt.Errorf("item %d: %w", id, ErrNotFound))
	}

	next := current.clone()
	receipt, err := next.Return(s.now(), s.policy)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("item %d: %w", id, err))
	}

	eventData := ItemReturnedEvent{
		ID:          id,
		ReturnedOn:  receipt.ReturnedOn,
		DaysOverdue: receipt.DaysOverdue,
		Fine:        receipt.Fine,
	}
	if err := s.record(ctx, next, EventItemReturned, eventData); err != nil {
		return nil, s.fail(span, err)
	}
	s.items[id] = next

	span.SetAttributes(attribute.Int("days.overdue", receipt.DaysOverdue), attribute.Float64("fine", receipt.Fine))
	s.returns.Add(ctx, 1)
	if receipt.Fine > 0 {
		s.finesCharged.Add(ctx, receipt.Fine)
		s.logger.InfoContext(ctx, "item returned late", "id", id, "days_overdue", receipt.DaysOverdue, "fine", receipt.Fine)
	} else {
		s.logger.InfoContext(ctx, "item returned", "id", id)
	}
	return &receipt, nil
}

// Search finds items whose title, creator or category contains term.
func (s *service) Search(ctx context.Context, term string) ([]*Item, error) {
	return s.filter(func(it *Item) bool { return it.Matches(term) }), nil
}

func (s *service) ListAvailable(ctx context.Context) ([]*Item, error) {
	return s.filter(func(it *Item) bool { return !it.CheckedOut }), nil
}

func (s *service) ListCheckedOut(ctx context.Context) ([]*Item, error) {
	return s.filter(func(it *Item) bool { return it.CheckedOut }), nil
}

// History returns the recorded transitions of an item, oldest first.
func (s *service) History(ctx context.Context, id int) ([]eventstore.Event, error) {
	s.mu.RLock()
	_, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}

	events, err := s.eventStore.LoadEvents(ctx, aggregateID(id), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	return events, nil
}

// filter returns copies of the matching items ordered by id.
func (s *service) filter(keep func(*Item) bool) []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*Item, 0, len(s.items))
	for _, it := range s.items {
		if keep(it) {
			items = append(items, it.clone())
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// record appends one event for item at its current version and bumps the
// version on success. Must be called with s.mu held.
func (s *service) record(ctx context.Context, item *Item, eventType string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	event := eventstore.Event{
		EventType: eventType,
		EventData: jsonData,
	}
	if err := s.eventStore.AppendEvents(ctx, aggregateID(item.ID), aggregateType, item.Version, []eventstore.Event{event}); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	item.Version++
	return nil
}

func (s *service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
