// Package config loads riskguard configuration from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/identity"
	"github.com/opensource-finance/riskguard/internal/window"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RISKGUARD_"

// Load builds a configuration from the defaults, the YAML file at path (optional)
// and RISKGUARD_* environment variables, in that order of precedence.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*domain.Config, error) {
	_ = godotenv.Load()

	cfg := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadIfExists is Load but treats a missing file as "no file".
func LoadIfExists(path string) (*domain.Config, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	return Load(path)
}

// Parse decodes YAML over cfg. Keys absent from the document keep their value.
func Parse(data []byte, cfg *domain.Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Validate checks the settings the pipeline cannot start without.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", cfg.Server.Port))
	}
	if _, err := identity.ParseProxies(cfg.Server.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("server.trustedProxies: %w", err))
	}

	switch cfg.Store.Type {
	case "memory", "":
	case "redis":
		if cfg.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redisAddr is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store type: %s", cfg.Store.Type))
	}

	if _, err := window.ParseStrategy(cfg.Window.Strategy); err != nil {
		errs = append(errs, err)
	}

	d := cfg.Decision
	if d.ChallengeThreshold < 0 || d.BlockThreshold < d.ChallengeThreshold {
		errs = append(errs, fmt.Errorf("decision thresholds must satisfy 0 <= challenge <= block, got %d/%d",
			d.ChallengeThreshold, d.BlockThreshold))
	}
	if err := d.Policy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("decision.policy: %w", err))
	}
	for name, p := range d.HardRulePolicies {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("decision.hardRulePolicies[%s]: %w", name, err))
		}
	}
	for i, hr := range d.HardRules {
		if strings.TrimSpace(hr.Name) == "" {
			errs = append(errs, fmt.Errorf("decision.hardRules[%d]: name is required", i))
		}
		if _, err := domain.ParseDecision(string(hr.Action)); err != nil {
			errs = append(errs, fmt.Errorf("decision.hardRules[%d]: invalid action %q", i, hr.Action))
		}
	}

	for i, r := range cfg.Routes {
		if r.Path == "" || r.Upstream == "" {
			errs = append(errs, fmt.Errorf("routes[%d]: path and upstream are required", i))
		}
		if r.Action == "" {
			errs = append(errs, fmt.Errorf("routes[%d]: action is required", i))
		}
	}

	return errors.Join(errs...)
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides cfg from RISKGUARD_* variables.
func applyEnv(cfg *domain.Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.int("PORT", &cfg.Server.Port)
	e.string("HOST", &cfg.Server.Host)
	e.list("TRUSTED_PROXIES", &cfg.Server.TrustedProxies)

	e.string("STORE_TYPE", &cfg.Store.Type)
	e.string("REDIS_ADDR", &cfg.Store.RedisAddr)
	e.string("REDIS_PASSWORD", &cfg.Store.RedisPassword)
	e.int("REDIS_DB", &cfg.Store.RedisDB)
	e.string("KEY_PREFIX", &cfg.Store.KeyPrefix)

	e.string("WINDOW_STRATEGY", &cfg.Window.Strategy)
	e.bool("FAIL_CLOSED", &cfg.Window.FailClosed)

	e.string("TIMEZONE", &cfg.Rules.Timezone)
	e.int("CHALLENGE_THRESHOLD", &cfg.Decision.ChallengeThreshold)
	e.int("BLOCK_THRESHOLD", &cfg.Decision.BlockThreshold)
	e.duration("CHALLENGE_TTL", &cfg.Decision.Policy.ChallengeTTL)
	e.duration("TEMP_BLOCK_TTL", &cfg.Decision.Policy.TemporaryBlockTTL)
	e.duration("PERM_BLOCK_TTL", &cfg.Decision.Policy.PermanentBlockTTL)
	e.int("ESCALATION_THRESHOLD", &cfg.Decision.Policy.EscalationThreshold)
	e.bool("PERMANENT_BLOCK_ENABLED", &cfg.Decision.Policy.PermanentBlockEnabled)

	e.string("DB_DRIVER", &cfg.Repository.Driver)
	e.string("SQLITE_PATH", &cfg.Repository.SQLitePath)
	e.duration("SQLITE_BUSY_TIMEOUT", &cfg.Repository.SQLiteBusyTimeout)
	e.string("POSTGRES_HOST", &cfg.Repository.PostgresHost)
	e.int("POSTGRES_PORT", &cfg.Repository.PostgresPort)
	e.string("POSTGRES_USER", &cfg.Repository.PostgresUser)
	e.string("POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	e.string("POSTGRES_DB", &cfg.Repository.PostgresDB)
	e.string("POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)
	e.duration("POSTGRES_CONNECT_TIMEOUT", &cfg.Repository.PostgresConnectTimeout)
	e.int("DB_MAX_OPEN_CONNS", &cfg.Repository.MaxOpenConns)

	e.string("BUS_TYPE", &cfg.EventBus.Type)
	e.string("NATS_URL", &cfg.EventBus.NATSUrl)
	e.string("NATS_TOKEN", &cfg.EventBus.NATSToken)

	e.string("LOG_LEVEL", &cfg.Logging.Level)
	e.string("LOG_FORMAT", &cfg.Logging.Format)
	e.bool("TRACING_ENABLED", &cfg.Tracing.Enabled)

	if debug, ok := lookup(EnvPrefix + "DEBUG"); ok && debug == "true" {
		cfg.Logging.Level = "debug"
	}

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) string(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) list(name string, dst *[]string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func (e *envReader) int(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = n
}

func (e *envReader) bool(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = b
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = d
}
