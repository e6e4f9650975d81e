package main

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/code-payments/stake-pool-server/pkg/metrics"
	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/stakepool"
)

var (
	conf  *stakepool.Config
	nrApp *newrelic.Application
)

func setup(c *cobra.Command, _ []string) error {
	// Either file may be absent.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	var err error
	conf, err = loadConfig(viper.New(), configPath)
	if err != nil {
		return err
	}

	if len(conf.NewRelicLicenseKey) > 0 {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigFromEnvironment(),
			newrelic.ConfigAppName(conf.AppName),
			newrelic.ConfigLicense(conf.NewRelicLicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			return errors.Wrap(err, "error connecting to new relic")
		}
		c.SetContext(metrics.NewContext(c.Context(), nrApp))
	}

	configureLogger(logrus.StandardLogger(), conf, nrApp)
	return nil
}

func teardown(_ *cobra.Command, _ []string) {
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}
}

// loadConfig layers the config file at path, if present, and the environment
// over stakepool.DefaultConfig.
func loadConfig(v *viper.Viper, path string) (*stakepool.Config, error) {
	bindEnv(v)

	// viper only reports a missing file when it searched for one itself, so an
	// explicit path is checked here.
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to load config %s", path)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to check if config exists")
	}

	config := stakepool.DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	config.RPCEndpoint = solana.ResolveEndpoint(config.RPCEndpoint)
	return config, nil
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("rpc_endpoint", "RPC_ENDPOINT")
	_ = v.BindEnv("rpc_rate_limit", "RPC_RATE_LIMIT")
	_ = v.BindEnv("commitment", "COMMITMENT")

	_ = v.BindEnv("program_id", "PROGRAM_ID")
	_ = v.BindEnv("pool_address", "POOL_ADDRESS")
	_ = v.BindEnv("payer_keypair", "PAYER_KEYPAIR")
	_ = v.BindEnv("owner_keypair", "OWNER_KEYPAIR")
	_ = v.BindEnv("operator_token_account", "OPERATOR_TOKEN_ACCOUNT")

	_ = v.BindEnv("min_reserve_lamports", "MIN_RESERVE_LAMPORTS")
	_ = v.BindEnv("min_delegation_lamports", "MIN_DELEGATION_LAMPORTS")
	_ = v.BindEnv("slot_capacity", "SLOT_CAPACITY")
	_ = v.BindEnv("fee_numerator", "FEE_NUMERATOR")
	_ = v.BindEnv("fee_denominator", "FEE_DENOMINATOR")
	_ = v.BindEnv("pay_creditors_batch", "PAY_CREDITORS_BATCH")

	_ = v.BindEnv("confirmation_timeout", "CONFIRMATION_TIMEOUT")
	_ = v.BindEnv("skip_preflight", "SKIP_PREFLIGHT")
	_ = v.BindEnv("compute_unit_limit", "COMPUTE_UNIT_LIMIT")
	_ = v.BindEnv("compute_unit_price", "COMPUTE_UNIT_PRICE")
	_ = v.BindEnv("max_submissions_per_step", "MAX_SUBMISSIONS_PER_STEP")
	_ = v.BindEnv("retry_attempts", "RETRY_ATTEMPTS")
	_ = v.BindEnv("retry_backoff", "RETRY_BACKOFF")

	_ = v.BindEnv("schedule", "SCHEDULE")
	_ = v.BindEnv("lock.etcd_endpoints", "LOCK_ETCD_ENDPOINTS")
	_ = v.BindEnv("lock.ttl", "LOCK_TTL")
	_ = v.BindEnv("journal.postgres_dsn", "JOURNAL_POSTGRES_DSN")

	_ = v.BindEnv("metrics_listen_address", "METRICS_LISTEN_ADDRESS")
	_ = v.BindEnv("new_relic_license_key", "NEW_RELIC_LICENSE_KEY")
	_ = v.BindEnv("app_name", "APP_NAME")

	_ = v.BindEnv("log_level", "LOG_LEVEL")
	_ = v.BindEnv("log_format", "LOG_FORMAT")
}

func configureLogger(logger *logrus.Logger, config *stakepool.Config, app *newrelic.Application) {
	var formatter logrus.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	if strings.EqualFold(config.LogFormat, "json") {
		formatter = &logrus.JSONFormatter{}
	}
	if app != nil {
		formatter = metrics.NewLogFormatter(app, formatter)
	}
	logger.SetFormatter(formatter)

	level, err := logrus.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil {
		logger.WithField("log_level", config.LogLevel).Warn("unknown log level, ignoring")
	} else {
		logger.SetLevel(level)
	}

	logger.SetOutput(os.Stderr)
}
