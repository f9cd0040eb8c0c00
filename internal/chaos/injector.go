// internal/chaos/injector.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"libralend/internal/catalog"
	"libralend/internal/circulation"
	"libralend/internal/membership"
)

// ErrInjected is returned by wrapped collaborators when a fault fires.
var ErrInjected = errors.New("chaos: injected fault")

// Fault describes what a wrapped component does while chaos is enabled.
type Fault struct {
	ErrorRate float64       // 0.0 to 1.0
	Latency   time.Duration // added before each call
}

// Injector decides per call whether a fault fires. Faults are keyed by
// component name so one experiment can target a single collaborator.
type Injector struct {
	mu     sync.Mutex
	rng    *rand.Rand
	faults map[string]Fault
	fired  map[string]int
}

// NewInjector creates an injector with a deterministic source.
func NewInjector(seed uint64) *Injector {
	return &Injector{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		faults: make(map[string]Fault),
		fired:  make(map[string]int),
	}
}

// Enable arms a fault for component.
func (in *Injector) Enable(component string, f Fault) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.faults[component] = f
}

// Disable disarms every fault.
func (in *Injector) Disable() {
	in.mu.Lock()
	defer in.mu.Unlock()
	clear(in.faults)
}

// Fired returns how many faults fired for component.
func (in *Injector) Fired(component string) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.fired[component]
}

func (in *Injector) strike(ctx context.Context, component string) error {
	in.mu.Lock()
	f, ok := in.faults[component]
	fire := ok && in.rng.Float64() < f.ErrorRate
	if fire {
		in.fired[component]++
	}
	in.mu.Unlock()

	if ok && f.Latency > 0 {
		select {
		case <-time.After(f.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fire {
		return fmt.Errorf("%w: %s", ErrInjected, component)
	}
	return nil
}

// Component names accepted by Enable.
const (
	ComponentLedger         = "ledger.reserve"
	ComponentGate           = "gate.is_eligible"
	ComponentRegistryCreate = "registry.create"
	ComponentRegistryUpdate = "registry.update"
)

var (
	_ catalog.Ledger       = (*Ledger)(nil)
	_ membership.Gate      = (*Gate)(nil)
	_ circulation.Registry = (*Registry)(nil)
)

// Ledger wraps a catalog.Ledger. Faults fire on TryReserve only: a failed
// Release would leak a copy, which no caller can repair.
type Ledger struct {
	catalog.Ledger
	in *Injector
}

// WrapLedger returns l with fault injection.
func WrapLedger(l catalog.Ledger, in *Injector) *Ledger {
	return &Ledger{Ledger: l, in: in}
}

// TryReserve implements catalog.Ledger.
func (l *Ledger) TryReserve(ctx context.Context, itemID uuid.UUID) error {
	if err := l.in.strike(ctx, ComponentLedger); err != nil {
		return err
	}
	return l.Ledger.TryReserve(ctx, itemID)
}

// Gate wraps a membership.Gate.
type Gate struct {
	next membership.Gate
	in   *Injector
}

// WrapGate returns g with fault injection.
func WrapGate(g membership.Gate, in *Injector) *Gate {
	return &Gate{next: g, in: in}
}

// IsEligible implements membership.Gate.
func (g *Gate) IsEligible(ctx context.Context, memberID uuid.UUID) (bool, error) {
	if err := g.in.strike(ctx, ComponentGate); err != nil {
		return false, err
	}
	return g.next.IsEligible(ctx, memberID)
}

// Registry wraps a circulation.Registry. Writes fail before reaching
// storage, as a dropped connection would.
type Registry struct {
	circulation.Registry
	in *Injector
}

// WrapRegistry returns r with fault injection.
func WrapRegistry(r circulation.Registry, in *Injector) *Registry {
	return &Registry{Registry: r, in: in}
}

// Create implements circulation.Registry.
func (r *Registry) Create(ctx context.Context, loan *circulation.Loan) (*circulation.Loan, error) {
	if err := r.in.strike(ctx, ComponentRegistryCreate); err != nil {
		return nil, err
	}
	return r.Registry.Create(ctx, loan)
}

// Update implements circulation.Registry.
func (r *Registry) Update(ctx context.Context, loan *circulation.Loan) (*circulation.Loan, error) {
	if err := r.in.strike(ctx, ComponentRegistryUpdate); err != nil {
		return nil, err
	}
	return r.Registry.Update(ctx, loan)
}
