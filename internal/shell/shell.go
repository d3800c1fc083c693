// Package shell implements the librarian command language on top of a
// catalog.Service: add, checkout, return, search and the two listings.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"libracatalog/internal/catalog"
	"libracatalog/internal/circulation"
)

// ErrQuit is returned by Exec when the user asks to leave.
var ErrQuit = errors.New("quit")

const usage = `Commands:
  add <title> <category> <creator> <kind>   add an item (kind: Book, Magazine, DVD)
  checkout <id> [days]                      check an item out
  return <id>                               return an item and report any fine
  search <term>                             find items by title, creator or category
  list-available                            list items on the shelf
  list-checked-out                          list items on loan
  history <id>                              show recorded transitions of an item
  help                                      show this help
  quit                                      leave the shell
Quote arguments that contain spaces: add "The Great Gatsby" Fiction "F. Scott Fitzgerald" Book`

type Shell struct {
	svc      catalog.Service
	out      io.Writer
	loanDays int
	prompt   string
}

type Option func(*Shell)

// WithLoanDays sets the loan period used by checkout when no days are given.
func WithLoanDays(days int) Option {
	return func(s *Shell) { s.loanDays = days }
}

// WithPrompt prints prompt before reading each line.
func WithPrompt(prompt string) Option {
	return func(s *Shell) { s.prompt = prompt }
}

func New(svc catalog.Service, out io.Writer, opts ...Option) *Shell {
	s := &Shell{
		svc:      svc,
		out:      out,
		loanDays: circulation.DefaultLoanDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes commands read from in until EOF or quit.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		if s.prompt != "" {
			fmt.Fprint(s.out, s.prompt)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		if err := s.Exec(ctx, scanner.Text()); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			return err
		}
	}
}

// Exec runs one command line. Expected user errors (unknown ids, items in
// the wrong state, bad arguments) are printed and yield nil.
func (s *Shell) Exec(ctx context.Context, line string) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		s.printf("Could not parse command: %v\n", err)
		return nil
	}
	if len(args) == 0 {
		return nil
	}

	cmd, args := strings.ToLower(args[0]), args[1:]
	switch cmd {
	case "add":
		return s.add(ctx, args)
	case "checkout":
		return s.checkout(ctx, args)
	case "return":
		return s.returnItem(ctx, args)
	case "search":
		return s.search(ctx, args)
	case "list-available":
		return s.listAvailable(ctx)
	case "list-checked-out":
		return s.listCheckedOut(ctx)
	case "history":
		return s.history(ctx, args)
	case "help", "?":
		s.printf("%s\n", usage)
		return nil
	case "quit", "exit":
		return ErrQuit
	default:
		s.printf("Unknown command %q. Type 'help' for a list of commands.\n", cmd)
		return nil
	}
}

func (s *Shell) add(ctx context.Context, args []string) error {
	if len(args) != 4 {
		s.printf("Usage: add <title> <category> <creator> <kind>\n")
		return nil
	}
	kind, err := catalog.ParseKind(args[3])
	if err != nil {
		s.printf("Unknown item type '%s'. Expected one of: %s.\n", args[3], kindList())
		return nil
	}

	item, err := s.svc.AddItem(ctx, args[0], args[1], args[2], kind)
	if err != nil {
		return err
	}
	s.printf("Item '%s' added to the library with ID: %d.\n", item.Title, item.ID)
	return nil
}

func (s *Shell) checkout(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		s.printf("Usage: checkout <id> [days]\n")
		return nil
	}
	id, ok := s.parseID(args[0])
	if !ok {
		return nil
	}
	days := s.loanDays
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			s.printf("Invalid loan period '%s'. Use a whole number of days, zero or more.\n", args[1])
			return nil
		}
		days = n
	}

	item, err := s.svc.CheckoutItem(ctx, id, days)
	switch {
	case err == nil:
		s.printf("Item '%s' checked out. Due date: %s.\n", item.Title, item.DueDate.Format(time.DateOnly))
		return nil
	case errors.Is(err, catalog.ErrNotFound):
		s.printf("Item with ID %d not found.\n", id)
		return nil
	case errors.Is(err, catalog.ErrAlreadyCheckedOut):
		s.printf("Item '%s' is already checked out.\n", s.title(ctx, id))
		return nil
	case errors.Is(err, catalog.ErrInvalidLoanPeriod):
		s.printf("Invalid loan period '%d'. The due date must not be later than %s.\n",
			days, circulation.LastDueDate.Format(time.DateOnly))
		return nil
	default:
		return err
	}
}

func (s *Shell) returnItem(ctx context.Context, args []string) error {
	if len(args) != 1 {
		s.printf("Usage: return <id>\n")
		return nil
	}
	id, ok := s.parseID(args[0])
	if !ok {
		return nil
	}

	receipt, err := s.svc.ReturnItem(ctx, id)
	switch {
	case err == nil:
		if receipt.Fine > 0 {
			s.printf("Item '%s' returned. Overdue fine: $%.2f.\n", receipt.Title, receipt.Fine)
		} else {
			s.printf("Item '%s' returned. No overdue fine.\n", receipt.Title)
		}
		return nil
	case errors.Is(err, catalog.ErrNotFound):
		s.printf("Item with ID %d not found.\n", id)
		return nil
	case errors.Is(err, catalog.ErrNotCheckedOut):
		s.printf("Item '%s' is not checked out.\n", s.title(ctx, id))
		return nil
	default:
		return err
	}
}

func (s *Shell) search(ctx context.Context, args []string) error {
	term := strings.Join(args, " ")
	items, err := s.svc.Search(ctx, term)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		s.printf("No items found matching '%s'.\n", term)
		return nil
	}
	s.printItems(items)
	return nil
}

func (s *Shell) listAvailable(ctx context.Context) error {
	items, err := s.svc.ListAvailable(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		s.printf("No items are currently available.\n")
		return nil
	}
	s.printf("Available items in the library:\n")
	s.printItems(items)
	return nil
}

func (s *Shell) listCheckedOut(ctx context.Context) error {
	items, err := s.svc.ListCheckedOut(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		s.printf("No items are currently checked out.\n")
		return nil
	}
	s.printf("Checked out items:\n")
	s.printItems(items)
	return nil
}

func (s *Shell) history(ctx context.Context, args []string) error {
	if len(args) != 1 {
		s.printf("Usage: history <id>\n")
		return nil
	}
	id, ok := s.parseID(args[0])
	if !ok {
		return nil
	}

	events, err := s.svc.History(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		s.printf("Item with ID %d not found.\n", id)
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range events {
		s.printf("%d. %s at %s\n", e.Version, e.EventType, e.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func (s *Shell) parseID(arg string) (int, bool) {
	id, err := strconv.Atoi(arg)
	if err != nil {
		s.printf("Invalid item ID '%s'.\n", arg)
		return 0, false
	}
	return id, true
}

// title looks up an item's title for a message, falling back to its id.
func (s *Shell) title(ctx context.Context, id int) string {
	item, err := s.svc.GetItem(ctx, id)
	if err != nil {
		return "#" + strconv.Itoa(id)
	}
	return item.Title
}

func (s *Shell) printItems(items []*catalog.Item) {
	for _, it := range items {
		s.printf("%s\n", it)
	}
}

func (s *Shell) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format, args...)
}

func kindList() string {
	names := make([]string, 0, len(catalog.Kinds()))
	for _, k := range catalog.Kinds() {
		names = append(names, k.String())
	}
	return strings.Join(names, ", ")
}
