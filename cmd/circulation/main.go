// cmd/circulation/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"libralend/internal/catalog"
	"libralend/internal/circulation"
	"libralend/internal/config"
	"libralend/internal/database"
	"libralend/internal/eventstore"
	"libralend/internal/logger"
	"libralend/internal/membership"
	"libralend/internal/telemetry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const usage = `Usage: circulation <command> [flags]

Commands:
  migrate                          apply database migrations
  item add -copies <n>             stock a new item
  member add                       enroll a member
  member suspend -id <uuid>        suspend a member
  member reinstate -id <uuid>      reinstate a member
  borrow -item <uuid> -member <uuid>
  return -loan <uuid>
  show -loan <uuid>                print a loan and its history
`

var errUsage = errors.New("invalid usage")

// app is the Postgres-backed stack a command runs against.
type app struct {
	db       *sql.DB
	ledger   *catalog.PostgresLedger
	roster   *membership.Roster
	registry *circulation.PostgresRegistry
	svc      circulation.Service
}

// command is a parsed invocation. run returns the value printed as JSON.
type command struct {
	name string
	run  func(ctx context.Context, a *app) (any, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd, err := parseCommand(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: cfg.ServiceName,
	}, stderr)
	slog.SetDefault(log)
	ctx = logger.WithRequestID(ctx, logger.GenerateRequestID())

	shutdown, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	out, err := cmd.run(ctx, newApp(db, cfg, log))
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.name, err)
	}
	if out == nil {
		return nil
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newApp(db *sql.DB, cfg *config.Config, log *slog.Logger) *app {
	es := eventstore.NewEventStore()
	ledger := catalog.NewPostgresLedger(db)
	registry := circulation.NewPostgresRegistry(db, es)

	var (
		gate   membership.Gate = membership.NewPostgresGate(db)
		caches []membership.Invalidator
	)
	if cfg.MembershipServiceURL != "" {
		client := membership.NewClient(cfg.MembershipServiceURL, cfg.MembershipRateLimit)
		cached := membership.NewCachedGate(client, cfg.MembershipCacheSize, cfg.MembershipCacheTTL)
		gate, caches = cached, append(caches, cached)
	}

	return &app{
		db:       db,
		ledger:   ledger,
		roster:   membership.NewRoster(db, es, caches...),
		registry: registry,
		svc:      circulation.NewService(ledger, gate, registry, circulation.WithLogger(log)),
	}
}

func parseCommand(args []string, stderr io.Writer) (*command, error) {
	if len(args) == 0 {
		return nil, errUsage
	}

	switch args[0] {
	case "migrate":
		return &command{name: "migrate", run: func(ctx context.Context, a *app) (any, error) {
			return nil, database.Migrate(ctx, a.db)
		}}, nil

	case "item":
		if len(args) < 2 || args[1] != "add" {
			return nil, errUsage
		}
		fs := newFlagSet("item add", stderr)
		copies := fs.Int("copies", 1, "copies available")
		if err := fs.Parse(args[2:]); err != nil {
			return nil, errUsage
		}
		if *copies < 0 {
			return nil, fmt.Errorf("%w: -copies must not be negative", errUsage)
		}
		return &command{name: "item add", run: func(ctx context.Context, a *app) (any, error) {
			id, err := a.ledger.AddItem(ctx, *copies)
			if err != nil {
				return nil, err
			}
			return catalog.Item{ID: id, Available: *copies}, nil
		}}, nil

	case "member":
		if len(args) < 2 {
			return nil, errUsage
		}
		return parseMemberCommand(args[1], args[2:], stderr)

	case "borrow":
		fs := newFlagSet("borrow", stderr)
		item := uuidFlag(fs, "item", "item id")
		member := uuidFlag(fs, "member", "member id")
		if err := parseRequired(fs, args[1:], "item", "member"); err != nil {
			return nil, err
		}
		return &command{name: "borrow", run: func(ctx context.Context, a *app) (any, error) {
			return a.svc.Borrow(ctx, *item, *member)
		}}, nil

	case "return":
		fs := newFlagSet("return", stderr)
		loan := uuidFlag(fs, "loan", "loan id")
		if err := parseRequired(fs, args[1:], "loan"); err != nil {
			return nil, err
		}
		return &command{name: "return", run: func(ctx context.Context, a *app) (any, error) {
			return a.svc.ReturnLoan(ctx, *loan)
		}}, nil

	case "show":
		fs := newFlagSet("show", stderr)
		loan := uuidFlag(fs, "loan", "loan id")
		if err := parseRequired(fs, args[1:], "loan"); err != nil {
			return nil, err
		}
		return &command{name: "show", run: func(ctx context.Context, a *app) (any, error) {
			l, err := a.svc.GetLoan(ctx, *loan)
			if err != nil {
				return nil, err
			}
			history, err := a.registry.History(ctx, l.ID)
			if err != nil {
				return nil, err
			}
			return loanView{Loan: l, History: history}, nil
		}}, nil

	default:
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func parseMemberCommand(sub string, args []string, stderr io.Writer) (*command, error) {
	switch sub {
	case "add":
		return &command{name: "member add", run: func(ctx context.Context, a *app) (any, error) {
			return a.roster.Enroll(ctx)
		}}, nil
	case "suspend", "reinstate":
		status := membership.StatusSuspended
		if sub == "reinstate" {
			status = membership.StatusActive
		}
		fs := newFlagSet("member "+sub, stderr)
		id := uuidFlag(fs, "id", "member id")
		if err := parseRequired(fs, args, "id"); err != nil {
			return nil, err
		}
		return &command{name: "member " + sub, run: func(ctx context.Context, a *app) (any, error) {
			if err := a.roster.SetStatus(ctx, *id, status); err != nil {
				return nil, err
			}
			return membership.Member{ID: *id, Status: status}, nil
		}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown member command %q", errUsage, sub)
	}
}

type loanView struct {
	Loan    *circulation.Loan  `json:"loan"`
	History []eventstore.Event `json:"history"`
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func uuidFlag(fs *flag.FlagSet, name, usage string) *uuid.UUID {
	id := new(uuid.UUID)
	fs.Func(name, usage, func(s string) error {
		parsed, err := uuid.Parse(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	})
	return id
}

// parseRequired parses args and fails unless every named flag was set.
func parseRequired(fs *flag.FlagSet, args []string, required ...string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for _, name := range required {
		if !set[name] {
			return fmt.Errorf("%w: -%s is required", errUsage, name)
		}
	}
	return nil
}
