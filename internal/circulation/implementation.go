// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"libralend/internal/catalog"
	"libralend/internal/concurrency"
	"libralend/internal/logger"
	"libralend/internal/membership"
)

// service implements the Service interface.
type service struct {
	ledger   catalog.Ledger
	gate     membership.Gate
	registry Registry
	locks    *concurrency.LockManager

	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer

	borrowOutcomes metric.Int64Counter
	returnOutcomes metric.Int64Counter
	overdueDays    metric.Int64Histogram
}

// Option configures a Service.
type Option func(*service)

// WithClock overrides the time source used for borrow and return timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *service) { s.logger = l }
}

// WithTracerProvider sets where spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *service) { s.tracer = tp.Tracer("libralend/circulation") }
}

// WithMeterProvider sets where outcome metrics go. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *service) { s.initMetrics(mp.Meter("libralend/circulation")) }
}

// NewService creates a new circulation service instance.
func NewService(ledger catalog.Ledger, gate membership.Gate, registry Registry, opts ...Option) Service {
	s := &service{
		ledger:   ledger,
		gate:     gate,
		registry: registry,
		locks:    concurrency.NewLockManager(),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
		tracer:   otel.Tracer("libralend/circulation"),
	}
	s.initMetrics(otel.Meter("libralend/circulation"))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) initMetrics(meter metric.Meter) {
	// Instrument creation only fails on invalid names; the returned
	// instruments are usable no-ops in that case.
	s.borrowOutcomes, _ = meter.Int64Counter("circulation.borrow.outcomes",
		metric.WithDescription("Borrow requests by outcome"))
	s.returnOutcomes, _ = meter.Int64Counter("circulation.return.outcomes",
		metric.WithDescription("Return requests by outcome"))
	s.overdueDays, _ = meter.Int64Histogram("circulation.return.overdue_days",
		metric.WithDescription("Whole days late for overdue returns"),
		metric.WithUnit("d"))
}

// Borrow orchestrates the borrow saga:
// duplicate check, reservation, eligibility, loan creation.
// The reservation is given back on every failure after it was taken.
func (s *service) Borrow(ctx context.Context, itemID, memberID uuid.UUID) (_ *Loan, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.borrow",
		trace.WithAttributes(
			attribute.String("item.id", itemID.String()),
			attribute.String("member.id", memberID.String()),
		),
	)
	defer span.End()
	defer func() { s.record(ctx, span, s.borrowOutcomes, "borrow", err) }()

	// Held across check and create so two requests for the same pair
	// cannot both pass the duplicate check.
	unlock := s.locks.Lock(itemID.String() + ":" + memberID.String())
	defer unlock()

	// Step 1: reject a second active loan for the pair
	active, err := s.registry.HasActiveLoan(ctx, itemID, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active loans: %w", err)
	}
	if active {
		return nil, ErrAlreadyBorrowed
	}

	// Step 2: take one copy
	if err := s.ledger.TryReserve(ctx, itemID); err != nil {
		if errors.Is(err, catalog.ErrOutOfStock) {
			return nil, ErrOutOfStock
		}
		return nil, fmt.Errorf("failed to reserve item: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			s.releaseReservation(ctx, itemID, err)
		}
	}()

	// Step 3: the member must be in good standing
	eligible, err := s.gate.IsEligible(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to check member eligibility: %w", err)
	}
	if !eligible {
		return nil, ErrMemberSuspended
	}

	// Step 4: persist the loan
	loan, err := s.registry.Create(ctx, newLoan(itemID, memberID, s.now()))
	if err != nil {
		if errors.Is(err, ErrAlreadyBorrowed) {
			return nil, ErrAlreadyBorrowed
		}
		return nil, fmt.Errorf("failed to create loan: %w", err)
	}
	committed = true

	span.SetAttributes(attribute.String("loan.id", loan.ID.String()))
	logger.FromContext(ctx, s.logger).Info("loan created",
		"loan_id", loan.ID, "item_id", itemID, "member_id", memberID, "due_at", loan.DueAt)
	return loan, nil
}

// releaseReservation compensates a reservation whose borrow did not complete.
func (s *service) releaseReservation(ctx context.Context, itemID uuid.UUID, cause error) {
	log := logger.FromContext(ctx, s.logger)
	log.Debug("rolling back item reservation", "item_id", itemID, "cause", cause)

	if err := s.ledger.Release(context.WithoutCancel(ctx), itemID); err != nil {
		log.Error("failed to roll back item reservation", "item_id", itemID, "error", err, "cause", cause)
	}
}

// ReturnLoan closes a loan. Late returns become OVERDUE with one penalty unit
// per whole day late; the copy is given back either way.
//
// The version-checked Update is the claim on the loan: only the caller whose
// update lands releases the copy, so concurrent returns from separate
// processes cannot release it twice.
func (s *service) ReturnLoan(ctx context.Context, loanID uuid.UUID) (_ *Loan, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return",
		trace.WithAttributes(attribute.String("loan.id", loanID.String())),
	)
	defer span.End()
	defer func() { s.record(ctx, span, s.returnOutcomes, "return", err) }()

	unlock := s.locks.Lock("loan:" + loanID.String())
	defer unlock()

	// Step 1: find the loan
	loan, err := s.registry.FindByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, ErrLoanNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to find loan: %w", err)
	}

	// Step 2: settle status and penalty
	if err := loan.close(s.now()); err != nil {
		return nil, err
	}

	// Step 3: persist; a stale version means another return won
	updated, err := s.registry.Update(ctx, loan)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, ErrAlreadyReturned
		}
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}

	// Step 4: give the copy back. The loan is already closed, so this runs
	// even if the caller has gone away.
	if err := s.ledger.Release(context.WithoutCancel(ctx), updated.ItemID); err != nil {
		logger.FromContext(ctx, s.logger).Error("loan closed but copy not released",
			"loan_id", updated.ID, "item_id", updated.ItemID, "error", err)
		return nil, fmt.Errorf("failed to release item: %w", err)
	}

	span.SetAttributes(
		attribute.String("loan.status", string(updated.Status)),
		attribute.String("loan.penalty", updated.Penalty.String()),
	)
	if updated.Status == StatusOverdue {
		s.overdueDays.Record(ctx, OverdueDays(updated.DueAt, *updated.ReturnedAt))
	}
	logger.FromContext(ctx, s.logger).Info("loan returned",
		"loan_id", updated.ID, "status", updated.Status, "penalty", updated.Penalty.String())
	return updated, nil
}

// GetLoan retrieves a loan by its ID.
func (s *service) GetLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error) {
	loan, err := s.registry.FindByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, ErrLoanNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to find loan: %w", err)
	}
	return loan, nil
}

// outcome names a result for metrics and logs.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyBorrowed):
		return "already_borrowed"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrMemberSuspended):
		return "member_suspended"
	case errors.Is(err, ErrLoanNotFound):
		return "loan_not_found"
	case errors.Is(err, ErrAlreadyReturned):
		return "already_returned"
	default:
		return "error"
	}
}

// record counts the outcome. Rejections are expected and logged at info;
// anything else is a fault.
func (s *service) record(ctx context.Context, span trace.Span, counter metric.Int64Counter, op string, err error) {
	result := outcome(err)
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", result)))
	span.SetAttributes(attribute.String("outcome", result))

	switch result {
	case "ok":
	case "error":
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.FromContext(ctx, s.logger).Error(op+" failed", "error", err)
	default:
		logger.FromContext(ctx, s.logger).Info(op+" rejected", "reason", err.Error())
	}
}
