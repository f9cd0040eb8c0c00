// internal/chaos/target.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"libralend/internal/catalog"
	"libralend/internal/circulation"
	"libralend/internal/membership"
)

// Target is a lending stack wired through an Injector, plus the bookkeeping
// experiments need to measure it.
type Target struct {
	Service  circulation.Service
	Injector *Injector

	ledger   catalog.Ledger
	registry circulation.Registry
	stock    map[uuid.UUID]int
	items    []uuid.UUID
	members  []uuid.UUID

	mu    sync.Mutex
	rng   *rand.Rand
	loans []uuid.UUID
}

// NewMemoryTarget builds an in-memory stack with the given items, all at
// copies available, and members in good standing.
func NewMemoryTarget(items, copies, members int, seed uint64, logger *slog.Logger) (*Target, error) {
	stock := make(map[uuid.UUID]int, items)
	itemIDs := make([]uuid.UUID, 0, items)
	for range items {
		id := uuid.New()
		stock[id] = copies
		itemIDs = append(itemIDs, id)
	}
	ledger, err := catalog.NewMemoryLedger(stock)
	if err != nil {
		return nil, err
	}

	dir := membership.NewDirectory()
	memberIDs := make([]uuid.UUID, 0, members)
	for range members {
		id := uuid.New()
		if err := dir.Put(id, membership.StatusActive); err != nil {
			return nil, err
		}
		memberIDs = append(memberIDs, id)
	}

	registry := circulation.NewMemoryRegistry()
	in := NewInjector(seed)
	opts := []circulation.Option{}
	if logger != nil {
		opts = append(opts, circulation.WithLogger(logger))
	}
	svc := circulation.NewService(WrapLedger(ledger, in), WrapGate(dir, in), WrapRegistry(registry, in), opts...)

	return &Target{
		Service:  svc,
		Injector: in,
		ledger:   ledger,
		registry: registry,
		stock:    stock,
		items:    itemIDs,
		members:  memberIDs,
		rng:      rand.New(rand.NewPCG(seed+1, seed+2)),
	}, nil
}

// Items returns the item IDs in the target.
func (t *Target) Items() []uuid.UUID { return t.items }

// Members returns the member IDs in the target.
func (t *Target) Members() []uuid.UUID { return t.members }

func (t *Target) track(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loans = append(t.loans, id)
}

func (t *Target) trackedLoans() []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uuid.UUID(nil), t.loans...)
}

func (t *Target) pick(n int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rng.IntN(n)
}

// Stats counts workload outcomes.
type Stats struct {
	Borrowed atomic.Int64
	Returned atomic.Int64
	Rejected atomic.Int64
	Faults   atomic.Int64
}

// Load runs ops random borrows and returns on workers goroutines. Each
// operation gets its own deadline when opTimeout is positive.
func (t *Target) Load(ctx context.Context, ops, workers int, opTimeout time.Duration) (*Stats, error) {
	stats := &Stats{}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for range ops {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			opCtx, cancel := ctx, context.CancelFunc(func() {})
			if opTimeout > 0 {
				opCtx, cancel = context.WithTimeout(ctx, opTimeout)
			}
			defer cancel()

			loans := t.trackedLoans()
			if len(loans) > 0 && t.pick(10) < 4 {
				_, err := t.Service.ReturnLoan(opCtx, loans[t.pick(len(loans))])
				t.count(stats, err, &stats.Returned)
				return nil
			}

			item := t.items[t.pick(len(t.items))]
			member := t.members[t.pick(len(t.members))]
			loan, err := t.Service.Borrow(opCtx, item, member)
			if err == nil {
				t.track(loan.ID)
			}
			t.count(stats, err, &stats.Borrowed)
			return nil
		})
	}
	return stats, g.Wait()
}

func (t *Target) count(stats *Stats, err error, ok *atomic.Int64) {
	switch {
	case err == nil:
		ok.Add(1)
	case errors.Is(err, circulation.ErrAlreadyBorrowed),
		errors.Is(err, circulation.ErrOutOfStock),
		errors.Is(err, circulation.ErrMemberSuspended),
		errors.Is(err, circulation.ErrAlreadyReturned):
		stats.Rejected.Add(1)
	default:
		stats.Faults.Add(1)
	}
}

// StockDrift sums, over all items, how far available copies plus active
// loans are from the starting stock. Zero means no copy was lost or minted.
func (t *Target) StockDrift(ctx context.Context) (float64, error) {
	out := make(map[uuid.UUID]int)
	for _, id := range t.trackedLoans() {
		loan, err := t.registry.FindByID(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("find loan %s: %w", id, err)
		}
		if loan.Status == circulation.StatusActive {
			out[loan.ItemID]++
		}
	}

	drift := 0
	for id, initial := range t.stock {
		available, err := t.ledger.Available(ctx, id)
		if err != nil {
			return 0, err
		}
		d := initial - available - out[id]
		if d < 0 {
			d = -d
		}
		drift += d
	}
	return float64(drift), nil
}

// DuplicateActivePairs counts (item, member) pairs holding more than one
// active loan.
func (t *Target) DuplicateActivePairs(ctx context.Context) (float64, error) {
	type pair struct{ item, member uuid.UUID }
	seen := make(map[pair]int)
	for _, id := range t.trackedLoans() {
		loan, err := t.registry.FindByID(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("find loan %s: %w", id, err)
		}
		if loan.Status == circulation.StatusActive {
			seen[pair{loan.ItemID, loan.MemberID}]++
		}
	}
	dups := 0
	for _, n := range seen {
		if n > 1 {
			dups++
		}
	}
	return float64(dups), nil
}
