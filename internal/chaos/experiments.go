package chaos

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"libracatalog/internal/catalog"
	"libracatalog/internal/circulation"
)

// Config sizes the catalog experiments.
type Config struct {
	Workers  int
	Duration time.Duration
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:  32,
		Duration: 5 * time.Second,
		Interval: 250 * time.Millisecond,
	}
}

// RegisterCatalogExperiments registers every predefined experiment against svc.
func (e *Engine) RegisterCatalogExperiments(svc catalog.Service, cfg Config) {
	e.RegisterExperiment(CheckoutContentionExperiment(svc, cfg.Workers))
	e.RegisterExperiment(ReturnContentionExperiment(svc, cfg.Workers))
	e.RegisterExperiment(ChurnExperiment(svc, cfg))
}

// CheckoutContentionExperiment fires many simultaneous checkouts of one item.
func CheckoutContentionExperiment(svc catalog.Service, workers int) Experiment {
	var itemID int
	var successes atomic.Int64

	return Experiment{
		Name:       "concurrent-checkout-contention",
		Hypothesis: "Exactly one of many simultaneous checkouts of the same item succeeds",
		SteadyState: []Metric{
			{
				Name:      "successful_checkouts",
				Query:     counter(&successes),
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
			{
				Name:      "partition_gap",
				Query:     partitionGap(svc),
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Setup: []Action{
			{
				Type:   "seed",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					successes.Store(0)
					item, err := svc.AddItem(ctx, "Contended Copy", "Chaos", "Game Day", catalog.Book)
					if err != nil {
						return err
					}
					itemID = item.ID
					return nil
				},
			},
		},
		Method: []Action{
			{
				Type:   "contention",
				Target: "catalog.checkout",
				Execute: func(ctx context.Context) error {
					return hammer(ctx, workers, &successes, catalog.ErrAlreadyCheckedOut, func(ctx context.Context) error {
						_, err := svc.CheckoutItem(ctx, itemID, circulation.DefaultLoanDays)
						return err
					})
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "return",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					_, err := svc.ReturnItem(ctx, itemID)
					if errors.Is(err, catalog.ErrNotCheckedOut) {
						return nil
					}
					return err
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "successful_checkouts",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Exactly one checkout should succeed",
			},
			{
				Metric:    "partition_gap",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Available and checked-out lists should partition the catalog",
			},
		},
	}
}

// ReturnContentionExperiment fires many simultaneous returns of one lent item.
func ReturnContentionExperiment(svc catalog.Service, workers int) Experiment {
	var itemID int
	var successes atomic.Int64

	return Experiment{
		Name:       "concurrent-return-contention",
		Hypothesis: "Exactly one of many simultaneous returns of the same item succeeds",
		SteadyState: []Metric{
			{
				Name:      "successful_returns",
				Query:     counter(&successes),
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
			{
				Name:      "partition_gap",
				Query:     partitionGap(svc),
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Setup: []Action{
			{
				Type:   "seed",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					successes.Store(0)
					item, err := svc.AddItem(ctx, "Returned Twice", "Chaos", "Game Day", catalog.DVD)
					if err != nil {
						return err
					}
					itemID = item.ID
					_, err = svc.CheckoutItem(ctx, itemID, circulation.DefaultLoanDays)
					return err
				},
			},
		},
		Method: []Action{
			{
				Type:   "contention",
				Target: "catalog.return",
				Execute: func(ctx context.Context) error {
					return hammer(ctx, workers, &successes, catalog.ErrNotCheckedOut, func(ctx context.Context) error {
						_, err := svc.ReturnItem(ctx, itemID)
						return err
					})
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "successful_returns",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Exactly one return should succeed",
			},
			{
				Metric:    "partition_gap",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Available and checked-out lists should partition the catalog",
			},
		},
	}
}

// ChurnExperiment checks items in and out at random from many goroutines
// while sampling the catalog for items whose due date disagrees with their
// checkout flag.
func ChurnExperiment(svc catalog.Service, cfg Config) Experiment {
	var (
		ids        []int
		stop       chan struct{}
		wg         sync.WaitGroup
		unexpected atomic.Int64
	)

	return Experiment{
		Name:       "checkout-churn",
		Hypothesis: "Random concurrent checkouts and returns never break the due-date invariant",
		Duration:   cfg.Duration,
		Interval:   cfg.Interval,
		SteadyState: []Metric{
			{
				Name:      "invariant_violations",
				Query:     invariantViolations(svc),
				Threshold: Threshold{Operator: "==", Value: 0},
			},
			{
				Name:      "unexpected_errors",
				Query:     counter(&unexpected),
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Setup: []Action{
			{
				Type:   "seed",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					unexpected.Store(0)
					ids = ids[:0]
					for i := 0; i < cfg.Workers; i++ {
						item, err := svc.AddItem(ctx, fmt.Sprintf("Churn Copy %d", i+1), "Chaos", "Game Day", catalog.Magazine)
						if err != nil {
							return err
						}
						ids = append(ids, item.ID)
					}
					return nil
				},
			},
		},
		Method: []Action{
			{
				Type:   "churn",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					if len(ids) == 0 {
						return errors.New("no items to churn")
					}
					stop = make(chan struct{})
					for w := 0; w < cfg.Workers; w++ {
						wg.Add(1)
						go func() {
							defer wg.Done()
							churn(ctx, svc, ids, stop, &unexpected)
						}()
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "stop-churn",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					if stop != nil {
						close(stop)
						wg.Wait()
						stop = nil
					}
					var errs []error
					for _, id := range ids {
						if _, err := svc.ReturnItem(ctx, id); err != nil && !errors.Is(err, catalog.ErrNotCheckedOut) {
							errs = append(errs, err)
						}
					}
					return errors.Join(errs...)
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "invariant_violations",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Every item has a due date exactly when it is checked out",
			},
			{
				Metric:    "unexpected_errors",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Only already-checked-out and not-checked-out errors are expected",
			},
		},
	}
}

func churn(ctx context.Context, svc catalog.Service, ids []int, stop <-chan struct{}, unexpected *atomic.Int64) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		id := ids[rand.IntN(len(ids))]
		var err error
		if rand.IntN(2) == 0 {
			_, err = svc.CheckoutItem(ctx, id, rand.IntN(circulation.DefaultLoanDays+1))
		} else {
			_, err = svc.ReturnItem(ctx, id)
		}
		if err != nil && !errors.Is(err, catalog.ErrAlreadyCheckedOut) && !errors.Is(err, catalog.ErrNotCheckedOut) {
			unexpected.Add(1)
		}
	}
}

// hammer releases workers goroutines at once, each running op a single time.
// Successes are counted; errors matching expected are ignored.
func hammer(ctx context.Context, workers int, successes *atomic.Int64, expected error, op func(context.Context) error) error {
	start := make(chan struct{})
	errs := make(chan error, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := op(ctx)
			switch {
			case err == nil:
				successes.Add(1)
			case !errors.Is(err, expected):
				errs <- err
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	var all []error
	for err := range errs {
		all = append(all, err)
	}
	return errors.Join(all...)
}

func counter(c *atomic.Int64) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) {
		return float64(c.Load()), nil
	}
}

// partitionGap counts items missing from, or duplicated across, the two listings.
func partitionGap(svc catalog.Service) func(context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		all, err := svc.Search(ctx, "")
		if err != nil {
			return 0, err
		}
		available, err := svc.ListAvailable(ctx)
		if err != nil {
			return 0, err
		}
		checkedOut, err := svc.ListCheckedOut(ctx)
		if err != nil {
			return 0, err
		}

		seen := make(map[int]int, len(all))
		for _, it := range available {
			seen[it.ID]++
		}
		for _, it := range checkedOut {
			seen[it.ID]++
		}
		gap := 0
		for _, it := range all {
			if seen[it.ID] != 1 {
				gap++
			}
			delete(seen, it.ID)
		}
		return float64(gap + len(seen)), nil
	}
}

// invariantViolations inspects a single snapshot of the catalog, so it is
// safe to sample while other goroutines mutate it.
func invariantViolations(svc catalog.Service) func(context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		items, err := svc.Search(ctx, "")
		if err != nil {
			return 0, err
		}
		violations := 0
		for i, it := range items {
			if it.CheckedOut != (it.DueDate != nil) {
				violations++
			}
			if it.ID != i+1 {
				violations++
			}
		}
		return float64(violations), nil
	}
}
