// Package backend opens the ledger store chosen by configuration and wires
// the ledger service and change broadcast on top of it.
package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"registro/internal/amqp"
	"registro/internal/config"
	"registro/internal/core"
	"registro/internal/ledger"
	"registro/internal/ledger/memory"
	"registro/internal/log"
	"registro/internal/services"
	"registro/internal/storage"
)

// Kind names a ledger store implementation.
type Kind string

const (
	Memory Kind = "memory"
	SQLite Kind = "sqlite"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Memory, SQLite:
		return k, nil
	}
	return "", fmt.Errorf("unknown ledger backend %q", s)
}

// Broker configures change broadcast. An empty URL disables it.
type Broker struct {
	URL      string
	Exchange string
	Queue    string
	// Origin identifies this process on the exchange.
	Origin string
}

// Options select and configure the backend.
type Options struct {
	Kind       Kind
	SQLitePath string
	Broker     Broker
	Catalog    *core.Catalog
	Location   *time.Location
}

// OptionsFromConfig derives backend options from the application config.
func OptionsFromConfig(cfg *config.Config, origin string) (Options, error) {
	if cfg == nil {
		return Options{}, fmt.Errorf("app config is nil")
	}
	kind, err := ParseKind(cfg.DataBackend)
	if err != nil {
		return Options{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return Options{}, fmt.Errorf("load timezone: %w", err)
	}
	return Options{
		Kind:       kind,
		SQLitePath: cfg.SQLiteDBPath,
		Broker: Broker{
			URL:      cfg.AMQPURL,
			Exchange: cfg.AMQPExchange,
			Queue:    cfg.AMQPQueue,
			Origin:   origin,
		},
		Catalog:  core.DefaultCatalog(),
		Location: loc,
	}, nil
}

func (o Options) validate() error {
	switch o.Kind {
	case Memory:
	case SQLite:
		if o.SQLitePath == "" {
			return fmt.Errorf("sqlite backend needs a database path")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", o.Kind)
	}
	if o.Broker.URL != "" && (o.Broker.Exchange == "" || o.Broker.Queue == "") {
		return fmt.Errorf("broker needs an exchange and a queue")
	}
	return nil
}

// Backend is an opened ledger store with its service.
type Backend struct {
	Repository ledger.Repository
	Service    *services.LedgerService
	// Changes is nil when broadcast is disabled or the broker was
	// unreachable at start-up.
	Changes *amqp.Client
}

// Close releases the store and the broker connection.
func (b *Backend) Close() error { return b.Service.Close() }

// Open builds the backend described by opts. A broker that cannot be
// reached is logged and skipped; the ledger works without it.
func Open(ctx context.Context, opts Options, logger *log.Logger) (*Backend, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentLedger)

	repo, err := openRepository(ctx, opts, logger)
	if err != nil {
		return nil, err
	}

	b := &Backend{Repository: repo}
	var publisher services.ChangePublisher
	if opts.Broker.URL != "" {
		client, err := amqp.NewClient(opts.Broker.URL, opts.Broker.Exchange, opts.Broker.Queue, opts.Broker.Origin, logger)
		if err != nil {
			logger.WarnContext(ctx, "Broker unreachable, continuing without change broadcast", log.FieldError, err)
		} else {
			b.Changes, publisher = client, client
			logger.InfoContext(ctx, "Change broadcast enabled",
				"exchange", opts.Broker.Exchange,
				"queue", opts.Broker.Queue,
				log.FieldOrigin, opts.Broker.Origin)
		}
	}

	b.Service = services.NewLedgerService(repo, opts.Catalog, publisher, opts.Location)
	return b, nil
}

func openRepository(ctx context.Context, opts Options, logger *log.Logger) (ledger.Repository, error) {
	if opts.Kind == Memory {
		logger.InfoContext(ctx, "Using in-memory ledger")
		return memory.New(), nil
	}

	repo, err := storage.NewSQLiteRepository(opts.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("ping sqlite ledger: %w", err)
	}
	logger.InfoContext(ctx, "Using SQLite ledger", "db_path", opts.SQLitePath)
	return repo, nil
}
