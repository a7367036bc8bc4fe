package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/lotkeep/internal/engine"
	"github.com/roach88/lotkeep/internal/notify"
)

//go:embed policy.cue
var policySchema string

// Config is the complete client configuration.
type Config struct {
	FacilityName           string
	MaxCapacity            int
	RequireRegisteredPlate bool
	QueuePath              string
	DatabaseURL            string
	ListenAddr             string
	SyncInterval           time.Duration
	ProbeInterval          time.Duration
	Backoff                Backoff
	Notify                 Notify
}

// Backoff configures retries of rejected queue items.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Notify configures promotion SMS delivery.
type Notify struct {
	Provider         string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
}

// Policy converts b for the syncer.
func (b Backoff) Policy() engine.BackoffPolicy {
	return engine.BackoffPolicy{Base: b.Base, Max: b.Max, MaxAttempts: b.MaxAttempts}
}

// SenderConfig converts n for notify.New.
func (n Notify) SenderConfig() notify.Config {
	return notify.Config{
		Provider:         n.Provider,
		TwilioAccountSID: n.TwilioAccountSID,
		TwilioAuthToken:  n.TwilioAuthToken,
		TwilioFrom:       n.TwilioFrom,
	}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		FacilityName:           "Parking",
		MaxCapacity:            25,
		RequireRegisteredPlate: true,
		QueuePath:              "lotkeep.db",
		ListenAddr:             ":8080",
		SyncInterval:           30 * time.Second,
		ProbeInterval:          10 * time.Second,
		Backoff: Backoff{
			Base:        5 * time.Second,
			Max:         10 * time.Minute,
			MaxAttempts: 25,
		},
		Notify: Notify{Provider: notify.ProviderLog},
	}
}

// Load builds the configuration from defaults, .env, the policy file at
// path (skipped when path is empty) and the environment.
func Load(path string) (Config, error) {
	return load(path, ".env")
}

func load(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	var errs []error

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read policy file: %w", err)
		}
		errs = append(errs, applyPolicy(&cfg, data)...)
	}
	errs = append(errs, applyEnv(&cfg)...)
	errs = append(errs, cfg.Validate()...)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// policyFile mirrors policy.cue. Pointer fields distinguish "absent" from
// zero values.
type policyFile struct {
	FacilityName           *string `yaml:"facility_name"`
	MaxCapacity            *int    `yaml:"max_capacity"`
	RequireRegisteredPlate *bool   `yaml:"require_registered_plate"`
	QueuePath              *string `yaml:"queue_path"`
	DatabaseURL            *string `yaml:"database_url"`
	ListenAddr             *string `yaml:"listen_addr"`
	SyncInterval           *string `yaml:"sync_interval"`
	ProbeInterval          *string `yaml:"probe_interval"`
	Backoff                *struct {
		Base        *string `yaml:"base"`
		Max         *string `yaml:"max"`
		MaxAttempts *int    `yaml:"max_attempts"`
	} `yaml:"backoff"`
	Notify *struct {
		Provider         *string `yaml:"provider"`
		TwilioAccountSID *string `yaml:"twilio_account_sid"`
		TwilioAuthToken  *string `yaml:"twilio_auth_token"`
		TwilioFrom       *string `yaml:"twilio_from"`
	} `yaml:"notify"`
}

// applyPolicy validates data against the CUE schema and merges it into cfg.
func applyPolicy(cfg *Config, data []byte) []error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return []error{fmt.Errorf("parse policy file: %w", err)}
	}
	if len(raw) == 0 {
		return nil
	}
	if err := validatePolicy(raw); err != nil {
		return []error{err}
	}

	var pf policyFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&pf); err != nil && !errors.Is(err, io.EOF) {
		return []error{fmt.Errorf("decode policy file: %w", err)}
	}

	var errs []error
	setString(&cfg.FacilityName, pf.FacilityName)
	setInt(&cfg.MaxCapacity, pf.MaxCapacity)
	if pf.RequireRegisteredPlate != nil {
		cfg.RequireRegisteredPlate = *pf.RequireRegisteredPlate
	}
	setString(&cfg.QueuePath, pf.QueuePath)
	setString(&cfg.DatabaseURL, pf.DatabaseURL)
	setString(&cfg.ListenAddr, pf.ListenAddr)
	errs = appendErr(errs, setDuration(&cfg.SyncInterval, "sync_interval", pf.SyncInterval))
	errs = appendErr(errs, setDuration(&cfg.ProbeInterval, "probe_interval", pf.ProbeInterval))
	if b := pf.Backoff; b != nil {
		errs = appendErr(errs, setDuration(&cfg.Backoff.Base, "backoff.base", b.Base))
		errs = appendErr(errs, setDuration(&cfg.Backoff.Max, "backoff.max", b.Max))
		setInt(&cfg.Backoff.MaxAttempts, b.MaxAttempts)
	}
	if n := pf.Notify; n != nil {
		setString(&cfg.Notify.Provider, n.Provider)
		setString(&cfg.Notify.TwilioAccountSID, n.TwilioAccountSID)
		setString(&cfg.Notify.TwilioAuthToken, n.TwilioAuthToken)
		setString(&cfg.Notify.TwilioFrom, n.TwilioFrom)
	}
	return errs
}

// validatePolicy unifies the decoded YAML with #Policy.
func validatePolicy(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(policySchema, cue.Filename("policy.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile policy schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Policy"))

	value := ctx.Encode(raw)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("policy file: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// envVars maps environment variables onto config fields.
var envVars = []struct {
	name  string
	apply func(*Config, string) error
}{
	{"LOTKEEP_FACILITY_NAME", func(c *Config, v string) error { c.FacilityName = v; return nil }},
	{"LOTKEEP_MAX_CAPACITY", func(c *Config, v string) error { return parseInt(&c.MaxCapacity, v) }},
	{"LOTKEEP_REQUIRE_REGISTERED_PLATE", func(c *Config, v string) error { return parseBool(&c.RequireRegisteredPlate, v) }},
	{"LOTKEEP_QUEUE_PATH", func(c *Config, v string) error { c.QueuePath = v; return nil }},
	{"LOTKEEP_DATABASE_URL", func(c *Config, v string) error { c.DatabaseURL = v; return nil }},
	{"LOTKEEP_LISTEN_ADDR", func(c *Config, v string) error { c.ListenAddr = v; return nil }},
	{"LOTKEEP_SYNC_INTERVAL", func(c *Config, v string) error { return parseDuration(&c.SyncInterval, v) }},
	{"LOTKEEP_PROBE_INTERVAL", func(c *Config, v string) error { return parseDuration(&c.ProbeInterval, v) }},
	{"LOTKEEP_BACKOFF_BASE", func(c *Config, v string) error { return parseDuration(&c.Backoff.Base, v) }},
	{"LOTKEEP_BACKOFF_MAX", func(c *Config, v string) error { return parseDuration(&c.Backoff.Max, v) }},
	{"LOTKEEP_BACKOFF_MAX_ATTEMPTS", func(c *Config, v string) error { return parseInt(&c.Backoff.MaxAttempts, v) }},
	{"LOTKEEP_NOTIFY_PROVIDER", func(c *Config, v string) error { c.Notify.Provider = v; return nil }},
	{"TWILIO_ACCOUNT_SID", func(c *Config, v string) error { c.Notify.TwilioAccountSID = v; return nil }},
	{"TWILIO_AUTH_TOKEN", func(c *Config, v string) error { c.Notify.TwilioAuthToken = v; return nil }},
	{"TWILIO_FROM_NUMBER", func(c *Config, v string) error { c.Notify.TwilioFrom = v; return nil }},
}

func applyEnv(cfg *Config) []error {
	var errs []error
	for _, ev := range envVars {
		v, ok := os.LookupEnv(ev.name)
		if !ok || v == "" {
			continue
		}
		if err := ev.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ev.name, err))
		}
	}
	return errs
}

// Validate reports every inconsistent setting.
func (c Config) Validate() []error {
	var errs []error
	if c.MaxCapacity <= 0 {
		errs = append(errs, fmt.Errorf("max_capacity must be positive, got %d", c.MaxCapacity))
	}
	if c.QueuePath == "" {
		errs = append(errs, errors.New("queue_path must not be empty"))
	}
	if c.SyncInterval <= 0 {
		errs = append(errs, errors.New("sync_interval must be positive"))
	}
	if c.ProbeInterval <= 0 {
		errs = append(errs, errors.New("probe_interval must be positive"))
	}
	if c.Backoff.Base <= 0 {
		errs = append(errs, errors.New("backoff.base must be positive"))
	}
	if c.Backoff.Max < c.Backoff.Base {
		errs = append(errs, fmt.Errorf("backoff.max (%s) must not be below backoff.base (%s)", c.Backoff.Max, c.Backoff.Base))
	}
	if c.Backoff.MaxAttempts < 0 {
		errs = append(errs, errors.New("backoff.max_attempts must not be negative"))
	}
	switch c.Notify.Provider {
	case notify.ProviderLog, notify.ProviderNoop:
	case notify.ProviderTwilio:
		if c.Notify.TwilioAccountSID == "" || c.Notify.TwilioAuthToken == "" || c.Notify.TwilioFrom == "" {
			errs = append(errs, errors.New("notify provider twilio needs twilio_account_sid, twilio_auth_token and twilio_from"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify provider %q", c.Notify.Provider))
	}
	return errs
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, key string, v *string) error {
	if v == nil {
		return nil
	}
	if err := parseDuration(dst, *v); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func parseDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func parseInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func parseBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}
