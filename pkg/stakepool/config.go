// Package stakepool holds the operator configuration shared by the state
// reader, planners, submitter and driver.
package stakepool

import (
	"crypto/ed25519"
	"time"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	stakepool_program "github.com/code-payments/stake-pool-server/pkg/solana/stakepool"
)

const (
	LamportsPerSol = 1_000_000_000

	DefaultMinReserveLamports     = 5 * LamportsPerSol
	DefaultMinDelegationLamports  = 1 * LamportsPerSol
	DefaultFeeNumerator           = 3
	DefaultFeeDenominator         = 100
	DefaultPayCreditorsBatch      = 10
	DefaultConfirmationTimeout    = time.Minute
	DefaultMaxSubmissionsPerStep  = 32
	DefaultRetryAttempts          = 3
	DefaultRetryBackoff           = 2 * time.Second
	DefaultSchedule               = "@every 10m"
	DefaultLockTTL                = 30 * time.Second
	DefaultRPCRateLimit           = 10
	DefaultMetricsListenAddress   = ":9090"
	DefaultAppName                = "stake-pool-server"
	DefaultCommitment             = "confirmed"
	DefaultLogLevel               = "info"
	DefaultLogFormat              = "text"
	DefaultUpdateValidatorsPerTxn = 5
)

var ErrInvalidConfig = errors.New("invalid config")

type LockConfig struct {
	EtcdEndpoints []string      `mapstructure:"etcd_endpoints"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type JournalConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// Config is the complete operator configuration. It is loaded once at
// startup and passed explicitly to every component.
type Config struct {
	RPCEndpoint  string            `mapstructure:"rpc_endpoint"`
	RPCHeaders   map[string]string `mapstructure:"rpc_headers"`
	RPCRateLimit float64           `mapstructure:"rpc_rate_limit"`
	Commitment   string            `mapstructure:"commitment"`

	ProgramID            string `mapstructure:"program_id"`
	PoolAddress          string `mapstructure:"pool_address"`
	PayerKeypair         string `mapstructure:"payer_keypair"`
	OwnerKeypair         string `mapstructure:"owner_keypair"`
	OperatorTokenAccount string `mapstructure:"operator_token_account"`

	MinReserveLamports    uint64 `mapstructure:"min_reserve_lamports"`
	MinDelegationLamports uint64 `mapstructure:"min_delegation_lamports"`
	SlotCapacity          uint32 `mapstructure:"slot_capacity"`
	FeeNumerator          uint64 `mapstructure:"fee_numerator"`
	FeeDenominator        uint64 `mapstructure:"fee_denominator"`
	PayCreditorsBatch     uint32 `mapstructure:"pay_creditors_batch"`

	ConfirmationTimeout   time.Duration `mapstructure:"confirmation_timeout"`
	SkipPreflight         bool          `mapstructure:"skip_preflight"`
	ComputeUnitLimit      uint32        `mapstructure:"compute_unit_limit"`
	ComputeUnitPrice      uint64        `mapstructure:"compute_unit_price"`
	MaxSubmissionsPerStep int           `mapstructure:"max_submissions_per_step"`
	RetryAttempts         uint          `mapstructure:"retry_attempts"`
	RetryBackoff          time.Duration `mapstructure:"retry_backoff"`

	Schedule string        `mapstructure:"schedule"`
	Lock     LockConfig    `mapstructure:"lock"`
	Journal  JournalConfig `mapstructure:"journal"`

	MetricsListenAddress string `mapstructure:"metrics_listen_address"`
	NewRelicLicenseKey   string `mapstructure:"new_relic_license_key"`
	AppName              string `mapstructure:"app_name"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// DefaultConfig returns a Config with every tunable at its default. Addresses
// and keypairs are left unset.
func DefaultConfig() *Config {
	return &Config{
		RPCEndpoint:           string(solana.EnvironmentLocal),
		RPCRateLimit:          DefaultRPCRateLimit,
		Commitment:            DefaultCommitment,
		MinReserveLamports:    DefaultMinReserveLamports,
		MinDelegationLamports: DefaultMinDelegationLamports,
		SlotCapacity:          stakepool_program.DefaultSlotCapacity,
		FeeNumerator:          DefaultFeeNumerator,
		FeeDenominator:        DefaultFeeDenominator,
		PayCreditorsBatch:     DefaultPayCreditorsBatch,
		ConfirmationTimeout:   DefaultConfirmationTimeout,
		MaxSubmissionsPerStep: DefaultMaxSubmissionsPerStep,
		RetryAttempts:         DefaultRetryAttempts,
		RetryBackoff:          DefaultRetryBackoff,
		Schedule:              DefaultSchedule,
		Lock:                  LockConfig{TTL: DefaultLockTTL},
		MetricsListenAddress:  DefaultMetricsListenAddress,
		AppName:               DefaultAppName,
		LogLevel:              DefaultLogLevel,
		LogFormat:             DefaultLogFormat,
	}
}

// Validate checks the fields every component depends on.
func (c *Config) Validate() error {
	if c.ProgramID == "" {
		return errors.Wrap(ErrInvalidConfig, "program_id is not set")
	}
	if _, err := solana.ParsePublicKey(c.ProgramID); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if c.PoolAddress == "" {
		return errors.Wrap(ErrInvalidConfig, "pool_address is not set")
	}
	if _, err := solana.ParsePublicKey(c.PoolAddress); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if c.OperatorTokenAccount != "" {
		if _, err := solana.ParsePublicKey(c.OperatorTokenAccount); err != nil {
			return errors.Wrap(ErrInvalidConfig, err.Error())
		}
	}
	if c.FeeDenominator == 0 {
		return errors.Wrap(ErrInvalidConfig, "fee_denominator is zero")
	}
	if c.FeeNumerator > c.FeeDenominator {
		return errors.Wrap(ErrInvalidConfig, "fee_numerator exceeds fee_denominator")
	}
	if c.SlotCapacity == 0 {
		return errors.Wrap(ErrInvalidConfig, "slot_capacity is zero")
	}
	if c.PayCreditorsBatch == 0 {
		return errors.Wrap(ErrInvalidConfig, "pay_creditors_batch is zero")
	}
	if c.MaxSubmissionsPerStep <= 0 {
		return errors.Wrap(ErrInvalidConfig, "max_submissions_per_step must be positive")
	}
	if _, err := solana.CommitmentFromString(c.Commitment); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}

// Program returns the parsed stake pool program id.
func (c *Config) Program() ed25519.PublicKey {
	key, _ := solana.ParsePublicKey(c.ProgramID)
	return key
}

// Pool returns the parsed pool address.
func (c *Config) Pool() ed25519.PublicKey {
	key, _ := solana.ParsePublicKey(c.PoolAddress)
	return key
}

// OperatorToken returns the parsed operator share account, or nil when unset.
func (c *Config) OperatorToken() ed25519.PublicKey {
	if c.OperatorTokenAccount == "" {
		return nil
	}
	key, _ := solana.ParsePublicKey(c.OperatorTokenAccount)
	return key
}

// CommitmentLevel returns the parsed commitment, defaulting to confirmed.
func (c *Config) CommitmentLevel() solana.Commitment {
	commitment, err := solana.CommitmentFromString(c.Commitment)
	if err != nil {
		return solana.CommitmentConfirmed
	}
	return commitment
}
