package infra

import (
	"errors"
	"fmt"
	"os"
	"time"

	"liquidation_go/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "configs/config.yaml"

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Chain struct {
		ChainID         uint64 `yaml:"chain_id"`
		Engine          string `yaml:"engine"`
		Ledger          string `yaml:"ledger"`
		Relay           string `yaml:"relay"`
		Owner           string `yaml:"owner"`
		BlockIntervalMS int    `yaml:"block_interval_ms"`
	} `yaml:"chain"`

	Oracle struct {
		Publisher   string `yaml:"publisher"`
		MaxPriceAge uint64 `yaml:"max_price_age"` // blocks
	} `yaml:"oracle"`

	Ledger struct {
		MinCollateralRatio decimal.Decimal `yaml:"min_collateral_ratio"`
	} `yaml:"ledger"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Server struct {
		ListenAddr    string  `yaml:"listen_addr"`
		JWTSecret     string  `yaml:"jwt_secret"`
		TokenTTLHours int     `yaml:"token_ttl_hours"`
		RateLimit     float64 `yaml:"rate_limit"` // requests per second per caller
		RateBurst     int     `yaml:"rate_burst"`
		InboxSize     int     `yaml:"inbox_size"`
		StreamBuffer  int     `yaml:"stream_buffer"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`

	Devnet DevnetConfig `yaml:"devnet"`
}

// DevnetConfig seeds the reference ledger on startup. Amounts are raw units.
type DevnetConfig struct {
	Enabled bool `yaml:"enabled"`
	Vaults  []struct {
		ID               string `yaml:"id"`
		DebtToken        string `yaml:"debt_token"`
		DebtAmount       string `yaml:"debt_amount"`
		CollateralToken  string `yaml:"collateral_token"`
		CollateralAmount string `yaml:"collateral_amount"`
	} `yaml:"vaults"`
	Tokens []struct {
		Token  string `yaml:"token"`
		Holder string `yaml:"holder"`
		Amount string `yaml:"amount"`
	} `yaml:"tokens"`
	Native []struct {
		Holder string `yaml:"holder"`
		Amount string `yaml:"amount"`
	} `yaml:"native"`
	Prices []struct {
		Token string `yaml:"token"`
		Price string `yaml:"price"`
	} `yaml:"prices"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.TokenTTLHours == 0 {
		cfg.Server.TokenTTLHours = 24
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 10
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 20
	}
	if cfg.Server.InboxSize == 0 {
		cfg.Server.InboxSize = 1024
	}
	if cfg.Server.StreamBuffer == 0 {
		cfg.Server.StreamBuffer = 1000
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Ledger.MinCollateralRatio.IsZero() {
		cfg.Ledger.MinCollateralRatio = decimal.RequireFromString("1.5")
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Chain.ChainID == 0 {
		return &domain.ConfigError{Field: "chain.chain_id", Err: errors.New("must be positive")}
	}

	addrs := []struct {
		field string
		value string
	}{
		{"chain.engine", c.Chain.Engine},
		{"chain.ledger", c.Chain.Ledger},
		{"chain.relay", c.Chain.Relay},
		{"chain.owner", c.Chain.Owner},
		{"oracle.publisher", c.Oracle.Publisher},
	}
	for _, a := range addrs {
		if !common.IsHexAddress(a.value) || common.HexToAddress(a.value) == (common.Address{}) {
			return &domain.ConfigError{Field: a.field, Err: fmt.Errorf("invalid address %q", a.value)}
		}
	}
	if c.RelayAddress() == c.OwnerAddress() {
		return &domain.ConfigError{Field: "chain.relay", Err: errors.New("relay and owner must differ")}
	}

	if c.Chain.BlockIntervalMS <= 0 {
		return &domain.ConfigError{Field: "chain.block_interval_ms", Err: errors.New("must be positive")}
	}
	if !c.Ledger.MinCollateralRatio.IsPositive() {
		return &domain.ConfigError{Field: "ledger.min_collateral_ratio", Err: errors.New("must be positive")}
	}
	if len(c.Server.JWTSecret) < 32 {
		return &domain.ConfigError{Field: "server.jwt_secret", Err: errors.New("must be at least 32 bytes (set LIQRELAY_JWT_SECRET)")}
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 || c.Server.InboxSize < 0 {
		return &domain.ConfigError{Field: "server", Err: errors.New("limits must not be negative")}
	}
	return nil
}

func (c *Config) EngineAddress() common.Address { return common.HexToAddress(c.Chain.Engine) }
func (c *Config) LedgerAddress() common.Address { return common.HexToAddress(c.Chain.Ledger) }
func (c *Config) RelayAddress() common.Address { return common.HexToAddress(c.Chain.Relay) }
func (c *Config) OwnerAddress() common.Address { return common.HexToAddress(c.Chain.Owner) }
func (c *Config) PublisherAddress() common.Address { return common.HexToAddress(c.Oracle.Publisher) }

// BlockInterval returns the devnet block time.
func (c *Config) BlockInterval() time.Duration {
	return time.Duration(c.Chain.BlockIntervalMS) * time.Millisecond
}

// TokenTTL returns the lifetime of issued access tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Server.TokenTTLHours) * time.Hour
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if secret := os.Getenv("LIQRELAY_JWT_SECRET"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if path := os.Getenv("LIQRELAY_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if addr := os.Getenv("LIQRELAY_LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if publisher := os.Getenv("LIQRELAY_ORACLE_PUBLISHER"); publisher != "" {
		cfg.Oracle.Publisher = publisher
	}
}
