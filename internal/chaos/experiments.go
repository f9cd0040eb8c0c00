// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// LoadProfile sizes the traffic an experiment drives through the target.
type LoadProfile struct {
	Ops       int
	Workers   int
	OpTimeout time.Duration
}

// DefaultLoad is used by Experiments.
var DefaultLoad = LoadProfile{Ops: 2000, Workers: 16}

// Experiments returns the standard suite against t.
func Experiments(t *Target, load LoadProfile) []Experiment {
	return []Experiment{
		CollaboratorFailureExperiment(t, load, 0.2),
		ReservationFailureExperiment(t, load, 0.3),
		ReturnPersistFailureExperiment(t, load, 0.3),
		DeadlineExperiment(t, load, 2*time.Millisecond),
		ConcurrentBorrowRaceExperiment(t, 32),
	}
}

func consistencyMetrics(t *Target) []Metric {
	return []Metric{
		{Name: "stock_drift", Query: t.StockDrift, Threshold: Threshold{Operator: "==", Value: 0}},
		{Name: "duplicate_active_pairs", Query: t.DuplicateActivePairs, Threshold: Threshold{Operator: "==", Value: 0}},
	}
}

func consistencyAssertions() []Assertion {
	return []Assertion{
		{Metric: "stock_drift", Condition: func(v float64) bool { return v == 0 }, Message: "copies lost or minted"},
		{Metric: "duplicate_active_pairs", Condition: func(v float64) bool { return v == 0 }, Message: "pair borrowed twice"},
	}
}

func loadAction(t *Target, load LoadProfile) Action {
	return Action{
		Type:   "load",
		Target: "circulation",
		Execute: func(ctx context.Context) error {
			stats, err := t.Load(ctx, load.Ops, load.Workers, load.OpTimeout)
			if err != nil {
				return err
			}
			if stats.Borrowed.Load() == 0 {
				return errors.New("no borrow succeeded under load")
			}
			return nil
		},
	}
}

func recoverAction(t *Target) Action {
	return Action{
		Type:   "recover",
		Target: "all",
		Execute: func(context.Context) error {
			t.Injector.Disable()
			return nil
		},
	}
}

// CollaboratorFailureExperiment fails eligibility checks and loan creation at
// rate. Every failed borrow must hand its copy back.
func CollaboratorFailureExperiment(t *Target, load LoadProfile, rate float64) Experiment {
	return Experiment{
		Name:        "collaborator-failure",
		Hypothesis:  "Inventory is conserved when membership and loan storage fail mid-saga",
		SteadyState: consistencyMetrics(t),
		Method: []Action{
			{
				Type:   "inject",
				Target: ComponentGate + "," + ComponentRegistryCreate,
				Execute: func(context.Context) error {
					t.Injector.Enable(ComponentGate, Fault{ErrorRate: rate})
					t.Injector.Enable(ComponentRegistryCreate, Fault{ErrorRate: rate})
					return nil
				},
			},
			loadAction(t, load),
		},
		Rollback:   []Action{recoverAction(t)},
		Validation: consistencyAssertions(),
	}
}

// ReservationFailureExperiment fails reservations at rate. No loan may exist
// without a reserved copy.
func ReservationFailureExperiment(t *Target, load LoadProfile, rate float64) Experiment {
	return Experiment{
		Name:        "reservation-failure",
		Hypothesis:  "A failed reservation never yields a loan",
		SteadyState: consistencyMetrics(t),
		Method: []Action{
			{
				Type:   "inject",
				Target: ComponentLedger,
				Execute: func(context.Context) error {
					t.Injector.Enable(ComponentLedger, Fault{ErrorRate: rate})
					return nil
				},
			},
			loadAction(t, load),
		},
		Rollback:   []Action{recoverAction(t)},
		Validation: consistencyAssertions(),
	}
}

// ReturnPersistFailureExperiment fails loan updates at rate. A return that
// cannot be saved must leave the loan active and its copy out.
func ReturnPersistFailureExperiment(t *Target, load LoadProfile, rate float64) Experiment {
	return Experiment{
		Name:        "return-persist-failure",
		Hypothesis:  "A return that cannot be saved keeps its copy out",
		SteadyState: consistencyMetrics(t),
		Method: []Action{
			{
				Type:   "inject",
				Target: ComponentRegistryUpdate,
				Execute: func(context.Context) error {
					t.Injector.Enable(ComponentRegistryUpdate, Fault{ErrorRate: rate})
					return nil
				},
			},
			loadAction(t, load),
		},
		Rollback:   []Action{recoverAction(t)},
		Validation: consistencyAssertions(),
	}
}

// DeadlineExperiment slows eligibility checks and loan writes so borrows and
// returns are canceled between steps.
func DeadlineExperiment(t *Target, load LoadProfile, latency time.Duration) Experiment {
	if load.OpTimeout == 0 {
		load.OpTimeout = 2 * latency
	}
	return Experiment{
		Name:        "deadline-exceeded",
		Hypothesis:  "Requests canceled mid-saga still compensate",
		SteadyState: consistencyMetrics(t),
		Method: []Action{
			{
				Type:   "inject",
				Target: ComponentGate + "," + ComponentRegistryCreate + "," + ComponentRegistryUpdate,
				Execute: func(context.Context) error {
					t.Injector.Enable(ComponentGate, Fault{Latency: latency})
					t.Injector.Enable(ComponentRegistryCreate, Fault{Latency: latency})
					t.Injector.Enable(ComponentRegistryUpdate, Fault{Latency: latency})
					return nil
				},
			},
			loadAction(t, load),
		},
		Rollback:   []Action{recoverAction(t)},
		Validation: consistencyAssertions(),
	}
}

// ConcurrentBorrowRaceExperiment sends n simultaneous borrows for one pair.
func ConcurrentBorrowRaceExperiment(t *Target, n int) Experiment {
	return Experiment{
		Name:        "concurrent-borrow-race",
		Hypothesis:  "Simultaneous borrows of one pair create exactly one loan",
		SteadyState: consistencyMetrics(t),
		Method: []Action{
			{
				Type:   "load",
				Target: "circulation",
				Execute: func(ctx context.Context) error {
					item, member := t.items[0], t.members[0]
					var (
						wg      sync.WaitGroup
						mu      sync.Mutex
						created int
					)
					for range n {
						wg.Add(1)
						go func() {
							defer wg.Done()
							loan, err := t.Service.Borrow(ctx, item, member)
							if err != nil {
								return
							}
							t.track(loan.ID)
							mu.Lock()
							created++
							mu.Unlock()
						}()
					}
					wg.Wait()

					// A pair left active by an earlier experiment makes zero valid too.
					if created > 1 {
						return fmt.Errorf("%d loans created for one pair", created)
					}
					return nil
				},
			},
		},
		Validation: consistencyAssertions(),
	}
}

// IsInjected reports whether err came from an armed fault.
func IsInjected(err error) bool {
	return errors.Is(err, ErrInjected)
}
