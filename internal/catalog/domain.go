// internal/catalog/domain.go
package catalog

import (
	"fmt"
	"strings"
	"time"

	"libracatalog/internal/circulation"
)

// Kind is the type of a catalog item.
type Kind int

const (
	Book Kind = iota + 1
	Magazine
	DVD
)

var kindNames = map[Kind]string{
	Book:     "Book",
	Magazine: "Magazine",
	DVD:      "DVD",
}

// Kinds lists every valid item kind.
func Kinds() []Kind { return []Kind{Book, Magazine, DVD} }

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind accepts a kind name in any letter case.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Item represents a book, magazine or DVD held by the library.
// DueDate is set if and only if CheckedOut is true.
type Item struct {
	ID         int        `json:"id"`
	Title      string     `json:"title"`
	Category   string     `json:"category"`
	Creator    string     `json:"creator"`
	Kind       Kind       `json:"kind"`
	CheckedOut bool       `json:"checked_out"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	Fine       float64    `json:"fine"`
	Version    int        `json:"version"`
}

// Checkout marks the item as lent until daysToDue days after today.
// Callers check availability first.
func (it *Item) Checkout(today time.Time, daysToDue int) {
	due := circulation.DueDate(today, daysToDue)
	it.CheckedOut = true
	it.DueDate = &due
}

// Return makes the item available again and assesses the overdue fine at
// the policy rate per whole day late. An on-time return leaves Fine untouched.
func (it *Item) Return(today time.Time, policy circulation.Policy) (Receipt, error) {
	if !it.CheckedOut {
		return Receipt{}, ErrNotCheckedOut
	}

	due := *it.DueDate
	overdue := circulation.OverdueDays(due, today)
	receipt := Receipt{
		ItemID:     it.ID,
		Title:      it.Title,
		DueDate:    due,
		ReturnedOn: circulation.Date(today),
	}
	if overdue > 0 {
		it.Fine = policy.Fine(overdue)
		receipt.DaysOverdue = overdue
		receipt.Fine = it.Fine
	}

	it.CheckedOut = false
	it.DueDate = nil
	return receipt, nil
}

// Matches reports whether term occurs in the title, creator or category,
// ignoring case. The empty term matches every item.
func (it *Item) Matches(term string) bool {
	term = strings.ToLower(term)
	return strings.Contains(strings.ToLower(it.Title), term) ||
		strings.Contains(strings.ToLower(it.Creator), term) ||
		strings.Contains(strings.ToLower(it.Category), term)
}

func (it *Item) String() string {
	return fmt.Sprintf("%s (%s) - %s - Author/Director: %s - ID: %d", it.Title, it.Kind, it.Category, it.Creator, it.ID)
}

func (it *Item) clone() *Item {
	cp := *it
	if it.DueDate != nil {
		due := *it.DueDate
		cp.DueDate = &due
	}
	return &cp
}

// Receipt describes a completed return.
type Receipt struct {
	ItemID      int       `json:"item_id"`
	Title       string    `json:"title"`
	DueDate     time.Time `json:"due_date"`
	ReturnedOn  time.Time `json:"returned_on"`
	DaysOverdue int       `json:"days_overdue"`
	Fine        float64   `json:"fine"`
}

// Event types recorded for every item transition.
const (
	EventItemAdded      = "ItemAdded"
	EventItemCheckedOut = "ItemCheckedOut"
	EventItemReturned   = "ItemReturned"
)

// ItemAddedEvent is recorded when a new item is added.
type ItemAddedEvent struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Creator  string `json:"creator"`
	Kind     Kind   `json:"kind"`
}

// ItemCheckedOutEvent is recorded when an item is lent.
type ItemCheckedOutEvent struct {
	ID       int       `json:"id"`
	LoanDays int       `json:"loan_days"`
	DueDate  time.Time `json:"due_date"`
}

// ItemReturnedEvent is recorded when an item comes back.
type ItemReturnedEvent struct {
	ID          int       `json:"id"`
	ReturnedOn  time.Time `json:"returned_on"`
	DaysOverdue int       `json:"days_overdue"`
	Fine        float64   `json:"fine"`
}
