package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"liquidation_go/internal/api"
	"liquidation_go/internal/domain"
	"liquidation_go/internal/engine"
	"liquidation_go/internal/event"
	"liquidation_go/internal/infra"
	"liquidation_go/internal/infra/storage"
	"liquidation_go/internal/settlement"
	"liquidation_go/internal/signature"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Storage   *storage.Storage
	Hub       *event.Hub
	Engine    *settlement.Engine
	Sequencer *engine.Sequencer
	Clock     *infra.BlockClock
	Auth      *api.Authenticator
	Server    *api.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the configuration and wires every component.
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("🚀 Bootstrapping liqrelay...", slog.String("version", cfg.App.Version))

	return b.wire(cfg)
}

func (b *Bootstrap) wire(cfg *infra.Config) error {
	// 3. Storage (DB) with the event hub as post-commit sink
	b.Hub = event.NewHub(cfg.Server.StreamBuffer)
	store, err := storage.NewStorage(storage.Options{
		Path:               cfg.Storage.Path,
		ChainID:            cfg.Chain.ChainID,
		Engine:             cfg.EngineAddress(),
		Ledger:             cfg.LedgerAddress(),
		Publisher:          cfg.PublisherAddress(),
		MaxPriceAge:        cfg.Oracle.MaxPriceAge,
		MinCollateralRatio: cfg.Ledger.MinCollateralRatio,
		Sink:               b.Hub,
	})
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	// 4. Settlement engine behind the sequencer
	authority := signature.NewAuthority(signature.AuthorizationDomain(cfg.Chain.ChainID, cfg.EngineAddress()))
	eng, err := settlement.NewEngine(settlement.Config{
		Relay:  cfg.RelayAddress(),
		Owner:  cfg.OwnerAddress(),
		Ledger: cfg.LedgerAddress(),
	}, authority, store)
	if err != nil {
		return &domain.ConfigError{Field: "chain", Err: err}
	}
	b.Engine = eng
	b.Sequencer = engine.NewSequencer(cfg.Server.InboxSize, eng, infra.GlobalMetrics)

	// 5. Devnet block production
	b.Clock = infra.NewBlockClock(store, cfg.BlockInterval(), infra.GlobalMetrics.SetMarker)

	// 6. HTTP API
	b.Auth = api.NewAuthenticator(cfg.Server.JWTSecret, cfg.TokenTTL())
	b.Server = api.NewServer(api.Options{
		ListenAddr: cfg.Server.ListenAddr,
		RateLimit:  cfg.Server.RateLimit,
		RateBurst:  cfg.Server.RateBurst,
	}, b.Sequencer, store, b.Hub, b.Auth, infra.GlobalMetrics)

	return nil
}

// SeedDevnet loads the configured devnet fixtures into a fresh database.
// A database whose marker already moved is left untouched.
func (b *Bootstrap) SeedDevnet(ctx context.Context) error {
	dev := b.Config.Devnet
	if !dev.Enabled {
		return nil
	}

	marker, err := b.Storage.Marker(ctx)
	if err != nil {
		return err
	}
	if marker > 0 {
		slog.Info("Devnet already seeded", slog.Uint64("marker", marker))
		return nil
	}

	slog.Info("🔄 Seeding devnet state...")
	for _, v := range dev.Vaults {
		vault, err := parseVault(v.ID, v.DebtToken, v.DebtAmount, v.CollateralToken, v.CollateralAmount)
		if err != nil {
			return err
		}
		if err := b.Storage.PutVault(ctx, vault); err != nil {
			return fmt.Errorf("seed vault %s: %w", v.ID, err)
		}
	}
	for _, t := range dev.Tokens {
		amount, err := uint256.FromDecimal(t.Amount)
		if err != nil {
			return fmt.Errorf("seed token amount %q: %w", t.Amount, err)
		}
		if err := b.Storage.MintToken(ctx, common.HexToAddress(t.Token), common.HexToAddress(t.Holder), amount); err != nil {
			return err
		}
	}
	for _, n := range dev.Native {
		amount, err := uint256.FromDecimal(n.Amount)
		if err != nil {
			return fmt.Errorf("seed native amount %q: %w", n.Amount, err)
		}
		if err := b.Storage.FundNative(ctx, common.HexToAddress(n.Holder), amount); err != nil {
			return err
		}
	}

	const genesis = 1
	for _, p := range dev.Prices {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return fmt.Errorf("seed price %q: %w", p.Price, err)
		}
		if err := b.Storage.PutPrice(ctx, common.HexToAddress(p.Token), price, genesis); err != nil {
			return err
		}
	}
	if err := b.Storage.SetMarker(ctx, genesis); err != nil {
		return err
	}

	slog.Info("✨ Devnet seeded",
		slog.Int("vaults", len(dev.Vaults)),
		slog.Int("token_balances", len(dev.Tokens)),
		slog.Int("prices", len(dev.Prices)),
	)
	return nil
}

func parseVault(id, debtToken, debtAmount, collToken, collAmount string) (domain.Vault, error) {
	vid, err := uint256.FromDecimal(id)
	if err != nil {
		return domain.Vault{}, fmt.Errorf("vault id %q: %w", id, err)
	}
	debt, err := uint256.FromDecimal(debtAmount)
	if err != nil {
		return domain.Vault{}, fmt.Errorf("vault %s debt %q: %w", id, debtAmount, err)
	}
	coll, err := uint256.FromDecimal(collAmount)
	if err != nil {
		return domain.Vault{}, fmt.Errorf("vault %s collateral %q: %w", id, collAmount, err)
	}
	return domain.Vault{
		ID:               vid,
		DebtToken:        common.HexToAddress(debtToken),
		DebtAmount:       debt,
		CollateralToken:  common.HexToAddress(collToken),
		CollateralAmount: coll,
		Status:           domain.VaultOpen,
	}, nil
}

// Run starts the background loops and the HTTP server and blocks until ctx
// is cancelled or a supervised task panics.
func (b *Bootstrap) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// Sequencer in its own goroutine (single writer)
	go b.Sequencer.Run(ctx)
	slog.InfoContext(ctx, "✅ Sequencer started")

	if err := b.Clock.Start(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "✅ Block clock started", slog.Duration("interval", b.Config.BlockInterval()))

	go func() {
		if err := Supervise(ctx, "http_server", b.Server.ListenAndServe); err != nil {
			cancel(err)
		}
	}()

	slog.InfoContext(ctx, "✨ liqrelay fully operational. Press Ctrl+C to exit.")
	<-ctx.Done()

	slog.Info("👋 Shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := b.Server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown failed", slog.Any("error", err))
	}
	b.Clock.Stop()

	closeErr := b.Storage.Close()
	if cause := context.Cause(ctx); errors.Is(cause, ErrTaskPanicked) {
		return errors.Join(cause, closeErr)
	}
	return closeErr
}
