package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for a fragility run.
type Config struct {
	LogLevel string
	Run      RunConfig
	Analysis AnalysisConfig
	Cache    CacheConfig
	Backend  BackendConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

type RunConfig struct {
	GeoJSONPath    string
	GMDir          string
	GMList         string
	OutputDir      string
	Workers        int
	MaxBuildings   int
	SkipValidation bool
	MergeInterval  int
	TaskTimeout    time.Duration
	ReportInterval time.Duration
	CurrentYear    int
}

type DamageState struct {
	Name string
	IDR  float64
}

type AnalysisConfig struct {
	PGATargets        []float64
	DamageStates      []DamageState
	CollapseDrift     float64
	Damping           float64
	GMTimeStep        float64
	MinGroundMotions  int
	WarnGroundMotions int
}

type CacheConfig struct {
	Path           string
	Backups        int
	LoadRetries    int
	LoadRetryDelay time.Duration
	LockTimeout    time.Duration
	MaxEntryAge    time.Duration
}

type BackendConfig struct {
	Kind    string
	Timeout time.Duration
	Exec    ExecConfig
	HTTP    HTTPConfig
	Mock    MockConfig
}

type ExecConfig struct {
	Command string
	Args    []string
}

type HTTPConfig struct {
	BaseURL string
	Token   string
}

// MockConfig parameterizes the closed-form drift = A·PGA^B backend.
type MockConfig struct {
	A         float64
	B         float64
	DivergeAt float64
}

type ServerConfig struct {
	Port      int
	TokenHash string
}

type DatabaseConfig struct {
	URL             string
	MaxConns        int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
	TTL time.Duration
}

var validBackends = map[string]bool{
	"exec": true,
	"http": true,
	"mock": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// DefaultPGATargets are the IDA intensity levels in g.
var DefaultPGATargets = []float64{0.05, 0.1, 0.15, 0.2, 0.3, 0.4, 0.5, 0.6, 0.8, 1.0}

// DefaultDamageStates are the drift limits per damage state; the last is collapse.
var DefaultDamageStates = []DamageState{
	{Name: "Slight", IDR: 0.005},
	{Name: "Moderate", IDR: 0.015},
	{Name: "Extensive", IDR: 0.035},
	{Name: "Complete", IDR: 0.080},
}

// Load reads configuration from environment variables and returns a validated Config.
// Paths are checked for existence by the pipeline, not here, so flags can
// still override them after Load.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel: strings.ToLower(envString("FRAGILITY_LOG_LEVEL", "info")),
		Run: RunConfig{
			GeoJSONPath:    os.Getenv("FRAGILITY_GEOJSON"),
			GMDir:          os.Getenv("FRAGILITY_GM_DIR"),
			GMList:         os.Getenv("FRAGILITY_GM_LIST"),
			OutputDir:      envString("FRAGILITY_OUTPUT_DIR", "output"),
			Workers:        envInt("FRAGILITY_WORKERS", 0),
			MaxBuildings:   envInt("FRAGILITY_MAX_BUILDINGS", 0),
			SkipValidation: envBool("FRAGILITY_SKIP_VALIDATION", false),
			MergeInterval:  envInt("FRAGILITY_MERGE_INTERVAL", 3),
			TaskTimeout:    envDurationSecs("FRAGILITY_TASK_TIMEOUT_SECS", time.Hour),
			ReportInterval: envDuration("FRAGILITY_REPORT_INTERVAL", 30*time.Second),
			CurrentYear:    envInt("FRAGILITY_CURRENT_YEAR", time.Now().Year()),
		},
		Analysis: AnalysisConfig{
			PGATargets:        envFloats("FRAGILITY_PGA_TARGETS", DefaultPGATargets),
			DamageStates:      envDamageStates("FRAGILITY_DAMAGE_STATES", DefaultDamageStates),
			CollapseDrift:     envFloat("FRAGILITY_COLLAPSE_DRIFT", 0.10),
			Damping:           envFloat("FRAGILITY_DAMPING", 0.05),
			GMTimeStep:        envFloat("FRAGILITY_GM_DT", 0.05),
			MinGroundMotions:  envInt("FRAGILITY_MIN_GROUND_MOTIONS", 1),
			WarnGroundMotions: envInt("FRAGILITY_WARN_GROUND_MOTIONS", 10),
		},
		Cache: CacheConfig{
			Path:           envString("FRAGILITY_CACHE_FILE", "fragility_cache.json"),
			Backups:        envInt("FRAGILITY_CACHE_BACKUPS", 5),
			LoadRetries:    envInt("FRAGILITY_CACHE_LOAD_RETRIES", 3),
			LoadRetryDelay: envDuration("FRAGILITY_CACHE_LOAD_RETRY_DELAY", 100*time.Millisecond),
			LockTimeout:    envDuration("FRAGILITY_CACHE_LOCK_TIMEOUT", 5*time.Second),
			MaxEntryAge:    envDuration("FRAGILITY_CACHE_MAX_ENTRY_AGE", 0),
		},
		Backend: BackendConfig{
			Kind:    envString("FRAGILITY_BACKEND", "mock"),
			Timeout: envDurationSecs("FRAGILITY_BACKEND_TIMEOUT_SECS", 5*time.Minute),
			Exec: ExecConfig{
				Command: os.Getenv("FRAGILITY_SOLVER_COMMAND"),
				Args:    strings.Fields(os.Getenv("FRAGILITY_SOLVER_ARGS")),
			},
			HTTP: HTTPConfig{
				BaseURL: os.Getenv("FRAGILITY_SOLVER_URL"),
				Token:   os.Getenv("FRAGILITY_SOLVER_TOKEN"),
			},
			Mock: MockConfig{
				A:         envFloat("FRAGILITY_MOCK_A", 0.02),
				B:         envFloat("FRAGILITY_MOCK_B", 1.2),
				DivergeAt: envFloat("FRAGILITY_MOCK_DIVERGE_AT", 0),
			},
		},
		Server: ServerConfig{
			Port:      envInt("FRAGILITY_STATUS_PORT", 0),
			TokenHash: os.Getenv("FRAGILITY_STATUS_TOKEN_HASH"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxConns:        envInt("DATABASE_MAX_CONNS", 10),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
			TTL: envDuration("REDIS_COUNTER_TTL", 7*24*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the invariants every run relies on.
func (c *Config) Validate() error {
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("FRAGILITY_LOG_LEVEL must be one of debug, info, warn, error; got %q", c.LogLevel)
	}

	if c.Run.Workers < 0 {
		return fmt.Errorf("FRAGILITY_WORKERS must be >= 0, got %d", c.Run.Workers)
	}
	if c.Run.MaxBuildings < 0 {
		return fmt.Errorf("FRAGILITY_MAX_BUILDINGS must be >= 0, got %d", c.Run.MaxBuildings)
	}
	if c.Run.MergeInterval < 1 {
		return fmt.Errorf("FRAGILITY_MERGE_INTERVAL must be >= 1, got %d", c.Run.MergeInterval)
	}
	if c.Run.TaskTimeout <= 0 {
		return fmt.Errorf("FRAGILITY_TASK_TIMEOUT_SECS must be positive")
	}

	if len(c.Analysis.PGATargets) == 0 {
		return fmt.Errorf("FRAGILITY_PGA_TARGETS must not be empty")
	}
	for i, v := range c.Analysis.PGATargets {
		if v <= 0 {
			return fmt.Errorf("FRAGILITY_PGA_TARGETS must be positive, got %g", v)
		}
		if i > 0 && v <= c.Analysis.PGATargets[i-1] {
			return fmt.Errorf("FRAGILITY_PGA_TARGETS must be strictly increasing")
		}
	}
	if len(c.Analysis.DamageStates) == 0 {
		return fmt.Errorf("FRAGILITY_DAMAGE_STATES must not be empty")
	}
	for _, ds := range c.Analysis.DamageStates {
		if ds.Name == "" || ds.IDR <= 0 {
			return fmt.Errorf("FRAGILITY_DAMAGE_STATES entries must be name=positive drift, got %q=%g", ds.Name, ds.IDR)
		}
	}
	if c.Analysis.CollapseDrift <= 0 {
		return fmt.Errorf("FRAGILITY_COLLAPSE_DRIFT must be positive")
	}
	if c.Analysis.Damping < 0 || c.Analysis.Damping >= 1 {
		return fmt.Errorf("FRAGILITY_DAMPING must be in [0, 1), got %g", c.Analysis.Damping)
	}
	if c.Analysis.GMTimeStep <= 0 {
		return fmt.Errorf("FRAGILITY_GM_DT must be positive")
	}

	if c.Cache.Path == "" {
		return fmt.Errorf("FRAGILITY_CACHE_FILE is required")
	}
	if c.Cache.Backups < 0 {
		return fmt.Errorf("FRAGILITY_CACHE_BACKUPS must be >= 0")
	}

	if !validBackends[c.Backend.Kind] {
		return fmt.Errorf("FRAGILITY_BACKEND must be one of exec, http, mock; got %q", c.Backend.Kind)
	}
	if c.Backend.Kind == "exec" && c.Backend.Exec.Command == "" {
		return fmt.Errorf("FRAGILITY_SOLVER_COMMAND is required when FRAGILITY_BACKEND is exec")
	}
	if c.Backend.Kind == "http" {
		u := c.Backend.HTTP.BaseURL
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("FRAGILITY_SOLVER_URL must start with http:// or https://, got %q", u)
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("FRAGILITY_STATUS_PORT out of range: %d", c.Server.Port)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

// envFloats parses a comma-separated list. Any bad element yields the default.
func envFloats(key string, defaultVal []float64) []float64 {
	v := os.Getenv(key)
	if v == "" {
		return append([]float64(nil), defaultVal...)
	}
	parts := strings.Split(v, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return append([]float64(nil), defaultVal...)
		}
		out = append(out, f)
	}
	return out
}

// envDamageStates parses "Slight=0.005,Moderate=0.015,...".
func envDamageStates(key string, defaultVal []DamageState) []DamageState {
	v := os.Getenv(key)
	if v == "" {
		return append([]DamageState(nil), defaultVal...)
	}
	var out []DamageState
	for _, p := range strings.Split(v, ",") {
		name, val, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			return append([]DamageState(nil), defaultVal...)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return append([]DamageState(nil), defaultVal...)
		}
		out = append(out, DamageState{Name: strings.TrimSpace(name), IDR: f})
	}
	return out
}
