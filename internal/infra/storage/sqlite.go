package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"liquidation_go/internal/domain"
	"liquidation_go/internal/signature"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Options configures the reference ledger behind the Storage.
type Options struct {
	// Path of the database file. Empty resolves to the per-user data dir.
	Path string

	ChainID   uint64
	Engine    common.Address // account the settlement engine acts as
	Ledger    common.Address // account of the vault ledger (debt spender)
	Publisher common.Address // oracle publisher whose price updates are accepted

	// MaxPriceAge is the maximum age, in blocks, of a price used for liquidation.
	MaxPriceAge uint64
	// MinCollateralRatio below which a vault may be liquidated.
	MinCollateralRatio decimal.Decimal

	// Sink receives events after their transaction committed. Optional.
	Sink domain.EventSink
}

// Storage persists the settlement world state and implements domain.Runtime
// on top of SQLite transactions.
type Storage struct {
	db          *gorm.DB
	opts        Options
	priceDomain *signature.Authority
	logger      *slog.Logger
}

// NewStorage opens (and migrates) the database described by opts.
func NewStorage(opts Options) (*Storage, error) {
	dbPath := opts.Path
	if dbPath == "" {
		p, err := getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		dbPath = p
	}

	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dsn(dbPath)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection serialises transactions and keeps :memory: databases alive.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if opts.MinCollateralRatio.IsZero() {
		opts.MinCollateralRatio = decimal.NewFromInt(1)
	}

	return &Storage{
		db:          db,
		opts:        opts,
		priceDomain: signature.NewAuthority(signature.PriceUpdateDomain(opts.ChainID, opts.Ledger)),
		logger:      slog.Default().With("module", "storage"),
	}, nil
}

func dsn(path string) string {
	if path == MemoryPath {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "LiqRelay", "data", "liqrelay.db"), nil
}

// SetSink replaces the event sink. It must be called before serving traffic.
func (s *Storage) SetSink(sink domain.EventSink) {
	s.opts.Sink = sink
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Atomic implements domain.Runtime. fn runs inside one database transaction;
// events it emits are published only after the transaction committed.
func (s *Storage) Atomic(ctx context.Context, fn func(domain.State) error) error {
	var committed []domain.Event

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marker, err := loadMarker(tx)
		if err != nil {
			return fmt.Errorf("load marker: %w", err)
		}
		st := &state{store: s, tx: tx, marker: marker}
		if err := fn(st); err != nil {
			return err
		}
		committed = st.events
		return nil
	})
	if err != nil {
		return err
	}

	if s.opts.Sink != nil {
		for _, ev := range committed {
			s.opts.Sink.Publish(ev)
		}
	}
	return nil
}

// ======================================================================================
// Chain head
// ======================================================================================

const headID = 1

func loadMarker(db *gorm.DB) (uint64, error) {
	var head chainHead
	err := db.Take(&head, headID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return head.Marker, err
}

// Marker returns the current deadline marker.
func (s *Storage) Marker(ctx context.Context) (uint64, error) {
	return loadMarker(s.db.WithContext(ctx))
}

// SetMarker moves the deadline marker to height.
func (s *Storage) SetMarker(ctx context.Context, height uint64) error {
	return upsert(s.db.WithContext(ctx), &chainHead{ID: headID, Marker: height})
}

// AdvanceMarker moves the deadline marker forward by n and returns the new height.
func (s *Storage) AdvanceMarker(ctx context.Context, n uint64) (uint64, error) {
	var next uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := loadMarker(tx)
		if err != nil {
			return err
		}
		next = cur + n
		return upsert(tx, &chainHead{ID: headID, Marker: next})
	})
	return next, err
}
