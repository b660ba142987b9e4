// Package config loads the process configuration: a YAML file laid over the
// built-in defaults, checked against an embedded JSON Schema, then overridden
// from the environment.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"disputeflow/bond"
	"disputeflow/db"
	"disputeflow/dispute"
	"disputeflow/juror"
	"disputeflow/ledger"
	"disputeflow/policy"
	"disputeflow/reputation"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://disputeflow.local/config.schema.json"

// Backends a store can be opened on.
const (
	BackendMemory   = "memory"
	BackendPebble   = "pebble"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Auth       AuthConfig       `yaml:"auth"`
	Redis      RedisConfig      `yaml:"redis"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Chain      ChainConfig      `yaml:"chain"`
	Dispute    DisputeConfig    `yaml:"dispute"`
	Juror      JurorConfig      `yaml:"juror"`
	Reputation ReputationConfig `yaml:"reputation"`
	Outbox     OutboxConfig     `yaml:"outbox"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// RatePerSecond and Burst bound requests per client IP.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	Backend     string     `yaml:"backend"`
	Path        string     `yaml:"path"`
	DatabaseURL string     `yaml:"database_url"`
	Pool        PoolConfig `yaml:"pool"`
}

// PoolConfig sizes the Postgres pool. Zero values keep the pgx defaults.
type PoolConfig struct {
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

func (p PoolConfig) Options() db.PoolOptions {
	return db.PoolOptions{
		MaxConns:        p.MaxConns,
		MinConns:        p.MinConns,
		MaxConnLifetime: p.MaxConnLifetime,
		MaxConnIdleTime: p.MaxConnIdleTime,
	}
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	OracleRule string        `yaml:"oracle_rule"`
	AdminRule  string        `yaml:"admin_rule"`
}

type RedisConfig struct {
	// Addr empty keeps events in the process log only.
	Addr   string `yaml:"addr"`
	Stream string `yaml:"stream"`
}

type TelemetryConfig struct {
	ServiceName  string        `yaml:"service_name"`
	OTLPEndpoint string        `yaml:"otlp_endpoint"`
	Insecure     bool          `yaml:"insecure"`
	Interval     time.Duration `yaml:"interval"`
}

type ChainConfig struct {
	Genesis   time.Time     `yaml:"genesis"`
	BlockTime time.Duration `yaml:"block_time"`
}

type DisputeConfig struct {
	VotingPeriod      uint64    `yaml:"voting_period"`
	AppealPeriod      uint64    `yaml:"appeal_period"`
	MaxEvidence       int       `yaml:"max_evidence"`
	MinJurors         int       `yaml:"min_jurors"`
	MaxJurors         int       `yaml:"max_jurors"`
	Minority          string    `yaml:"minority_policy"`
	SettlementAccount string    `yaml:"settlement_account"`
	BondFloors        [3]uint64 `yaml:"bond_floors"`
}

type JurorConfig struct {
	Stake         uint64 `yaml:"stake"`
	SlashRatioPct uint64 `yaml:"slash_ratio_pct"`
	GoldCap       int    `yaml:"gold_cap"`
	SilverCap     int    `yaml:"silver_cap"`
	BronzeCap     int    `yaml:"bronze_cap"`
}

type ReputationConfig struct {
	LossPolicy     string `yaml:"loss_policy"`
	MinDisputes    uint32 `yaml:"min_disputes"`
	MaxLossRatePct uint32 `yaml:"max_loss_rate_pct"`
}

type OutboxConfig struct {
	BatchSize int           `yaml:"batch_size"`
	Interval  time.Duration `yaml:"interval"`
}

// Default is the configuration of a development process: in-memory store,
// console logs, no exporters.
func Default() Config {
	dc := dispute.DefaultConfig()
	jc := juror.DefaultConfig()
	rc := reputation.DefaultClassifier()
	return Config{
		HTTP: HTTPConfig{Addr: ":8080", RatePerSecond: 20, Burst: 40},
		Log:  LogConfig{Level: "info", Format: "console"},
		Store: StoreConfig{
			Backend: BackendMemory,
			Path:    "data/disputeflow",
			Pool:    PoolConfig{MaxConns: 16, MaxConnLifetime: 30 * time.Minute},
		},
		Auth: AuthConfig{
			TokenTTL:   24 * time.Hour,
			OracleRule: policy.DefaultOracleRule,
			AdminRule:  policy.DefaultAdminRule,
		},
		Redis:     RedisConfig{Stream: "disputeflow.events"},
		Telemetry: TelemetryConfig{ServiceName: "disputeflow", Interval: 30 * time.Second},
		Chain: ChainConfig{
			Genesis:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			BlockTime: 6 * time.Second,
		},
		Dispute: DisputeConfig{
			VotingPeriod:      dc.VotingPeriod,
			AppealPeriod:      dc.AppealPeriod,
			MaxEvidence:       dc.MaxEvidence,
			MinJurors:         dc.MinJurors,
			MaxJurors:         dc.MaxJurors,
			Minority:          string(dc.Minority),
			SettlementAccount: dc.SettlementAccount,
			BondFloors: [3]uint64{
				uint64(dc.Schedule.Floors[0]),
				uint64(dc.Schedule.Floors[1]),
				uint64(dc.Schedule.Floors[2]),
			},
		},
		Juror: JurorConfig{
			Stake:         uint64(jc.Stake),
			SlashRatioPct: jc.SlashRatioPct,
			GoldCap:       jc.Caps.Gold,
			SilverCap:     jc.Caps.Silver,
			BronzeCap:     jc.Caps.Bronze,
		},
		Reputation: ReputationConfig{
			LossPolicy:     string(rc.Policy),
			MinDisputes:    rc.MinDisputes,
			MaxLossRatePct: rc.MaxLossRatePct,
		},
		Outbox: OutboxConfig{BatchSize: 100, Interval: time.Second},
	}
}

// Load reads path over Default and applies the environment. An empty path
// skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := Parse(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse checks raw YAML against the schema and decodes it into cfg. Keys
// missing from raw keep their current values.
func Parse(raw []byte, cfg *Config) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("config: parse yaml: %w", err)
	}
	if doc == nil {
		return nil
	}
	if err := validateSchema(doc); err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("config: decode: %w", err)
	}
	return nil
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("config: load schema: %w", err)
	}
	return c.Compile(schemaURL)
}

// validateSchema round-trips doc through JSON so the validator sees the
// same value types a JSON document would produce.
func validateSchema(doc any) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	buf, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: encode for schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("config: decode for schema: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("config: schema: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set("HTTP_ADDR", &c.HTTP.Addr)
	set("LOG_LEVEL", &c.Log.Level)
	set("LOG_FORMAT", &c.Log.Format)
	set("STORE_BACKEND", &c.Store.Backend)
	set("STORE_PATH", &c.Store.Path)
	set("DATABASE_URL", &c.Store.DatabaseURL)
	set("JWT_SECRET", &c.Auth.JWTSecret)
	set("REDIS_ADDR", &c.Redis.Addr)
	set("OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	if v := getenv("OTLP_INSECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: OTLP_INSECURE: %w", err)
		}
		c.Telemetry.Insecure = b
	}
	return nil
}

// Validate checks the values the schema cannot express.
func (c Config) Validate() error {
	var problems []error
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPebble, BackendSQLite:
		if c.Store.Path == "" {
			problems = append(problems, fmt.Errorf("store.path required for %s", c.Store.Backend))
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			problems = append(problems, errors.New("store.database_url (or DATABASE_URL) required for postgres"))
		}
		if p := c.Store.Pool; p.MaxConns > 0 && p.MinConns > p.MaxConns {
			problems = append(problems, fmt.Errorf("store.pool.min_conns %d above max_conns %d", p.MinConns, p.MaxConns))
		}
	default:
		problems = append(problems, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if len(c.Auth.JWTSecret) < 16 {
		problems = append(problems, errors.New("auth.jwt_secret (or JWT_SECRET) must be at least 16 bytes"))
	}
	if c.Chain.BlockTime <= 0 {
		problems = append(problems, errors.New("chain.block_time must be positive"))
	}
	if err := c.DisputeSettings().Validate(); err != nil {
		problems = append(problems, err)
	}
	if err := c.Classifier().Validate(); err != nil {
		problems = append(problems, err)
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(problems...))
	}
	return nil
}

func (c Config) DisputeSettings() dispute.Config {
	d := c.Dispute
	var floors [bond.LastRound]ledger.Balance
	for i := range floors {
		floors[i] = ledger.Balance(d.BondFloors[i])
	}
	return dispute.Config{
		VotingPeriod:      d.VotingPeriod,
		AppealPeriod:      d.AppealPeriod,
		MaxEvidence:       d.MaxEvidence,
		MinJurors:         d.MinJurors,
		MaxJurors:         d.MaxJurors,
		Minority:          dispute.MinorityPolicy(d.Minority),
		SettlementAccount: d.SettlementAccount,
		Schedule:          bond.Schedule{Floors: floors},
	}
}

func (c Config) JurorSettings() juror.Config {
	return juror.Config{
		Stake:         ledger.Balance(c.Juror.Stake),
		SlashRatioPct: c.Juror.SlashRatioPct,
		Caps: juror.PoolCaps{
			Gold:   c.Juror.GoldCap,
			Silver: c.Juror.SilverCap,
			Bronze: c.Juror.BronzeCap,
		},
	}
}

func (c Config) Classifier() reputation.Classifier {
	return reputation.Classifier{
		Policy:         reputation.LossPolicy(c.Reputation.LossPolicy),
		MinDisputes:    c.Reputation.MinDisputes,
		MaxLossRatePct: c.Reputation.MaxLossRatePct,
	}
}
