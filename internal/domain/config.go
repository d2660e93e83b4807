package domain

import "time"

// Config holds the complete riskguard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Scoring pipeline
	Store    StoreConfig    `yaml:"store"`
	Window   WindowConfig   `yaml:"window"`
	Rules    RulesConfig    `yaml:"rules"`
	Decision DecisionConfig `yaml:"decision"`

	// Guarded upstream routes served by the gateway
	Routes []RouteConfig `yaml:"routes"`

	// Outcome audit pipeline
	Repository RepositoryConfig `yaml:"repository"`
	EventBus   EventBusConfig   `yaml:"eventBus"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`

	// TrustedProxies lists the CIDRs or addresses whose X-Forwarded-For and
	// X-Real-IP headers are believed. Other peers are scored by their own address.
	TrustedProxies []string `yaml:"trustedProxies"`
}

// WindowConfig controls how counters decay.
type WindowConfig struct {
	// Strategy is "SLIDING" or "FIXED"
	Strategy string `yaml:"strategy"`

	// FailClosed turns counter store failures into evaluation errors.
	// When false a failing store reads as "no activity".
	FailClosed bool `yaml:"failClosed"`
}

// VelocityRuleConfig is the baseline for the counting rules.
type VelocityRuleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Window          time.Duration `yaml:"window"`
	Max             int           `yaml:"max"`
	Score           int           `yaml:"score"`
	ExcludedActions []string      `yaml:"excludedActions"`
}

// NightTimeRuleConfig is the baseline for the night time rule.
type NightTimeRuleConfig struct {
	Enabled   bool `yaml:"enabled"`
	StartHour int  `yaml:"startHour"`
	EndHour   int  `yaml:"endHour"`
	Score     int  `yaml:"score"`
}

// ExpressionRuleConfig declares a CEL rule.
type ExpressionRuleConfig struct {
	Code       string `yaml:"code"`
	Expression string `yaml:"expression"`
	Score      int    `yaml:"score"`
	Enabled    bool   `yaml:"enabled"`
}

// RulesConfig holds the baseline settings of every built-in rule.
type RulesConfig struct {
	Timezone           string                 `yaml:"timezone"`
	IPVelocity         VelocityRuleConfig     `yaml:"ipVelocity"`
	UserVelocity       VelocityRuleConfig     `yaml:"userVelocity"`
	BruteForce         VelocityRuleConfig     `yaml:"bruteForce"`
	CredentialStuffing VelocityRuleConfig     `yaml:"credentialStuffing"`
	NightTime          NightTimeRuleConfig    `yaml:"nightTime"`
	Expressions        []ExpressionRuleConfig `yaml:"expressions"`
}

// DecisionConfig maps scores to decisions.
type DecisionConfig struct {
	ChallengeThreshold int              `yaml:"challengeThreshold"`
	BlockThreshold     int              `yaml:"blockThreshold"`
	HardRules          []HardRuleConfig `yaml:"hardRules"`
	Policy             ChallengePolicy  `yaml:"policy"`

	// HardRulePolicies replaces Policy when the named hard rule fired.
	HardRulePolicies map[string]ChallengePolicy `yaml:"hardRulePolicies"`
}

// RouteConfig mounts a guarded reverse proxy.
type RouteConfig struct {
	Path                 string   `yaml:"path"`
	Method               string   `yaml:"method"`
	Action               string   `yaml:"action"`
	Upstream             string   `yaml:"upstream"`
	EvaluateBefore       bool     `yaml:"evaluateBefore"`
	EvaluateOnFailure    bool     `yaml:"evaluateOnFailure"`
	EvaluateAfterSuccess bool     `yaml:"evaluateAfterSuccess"`
	Rules                []string `yaml:"rules"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"serviceName"`
}

// DefaultConfig returns a single-process configuration: in-memory counters,
// SQLite audit log and a channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			TrustedProxies: []string{"127.0.0.0/8", "::1"},
		},
		Store: StoreConfig{
			Type:          "memory",
			SweepInterval: time.Minute,
			KeyPrefix:     "riskguard:",
			DialTimeout:   2 * time.Second,
			OpTimeout:     250 * time.Millisecond,
		},
		Window: WindowConfig{
			Strategy: "SLIDING",
		},
		Rules: RulesConfig{
			Timezone:           "Europe/Istanbul",
			IPVelocity:         VelocityRuleConfig{Enabled: true, Window: 60 * time.Second, Max: 25, Score: 50},
			UserVelocity:       VelocityRuleConfig{Enabled: true, Window: 60 * time.Second, Max: 20, Score: 35},
			BruteForce:         VelocityRuleConfig{Enabled: true, Window: 300 * time.Second, Max: 8, Score: 50},
			CredentialStuffing: VelocityRuleConfig{Enabled: true, Window: 300 * time.Second, Max: 5, Score: 70},
			NightTime:          NightTimeRuleConfig{Enabled: true, StartHour: 2, EndHour: 6, Score: 15},
		},
		Decision: DecisionConfig{
			ChallengeThreshold: 50,
			BlockThreshold:     80,
			Policy:             DefaultChallengePolicy(),
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./riskguard.db",
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "riskguard",
		},
	}
}
