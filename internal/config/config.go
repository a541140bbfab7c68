// Package config loads service settings from an optional YAML file and
// environment variables. Environment values win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	AMQPURL     string `yaml:"amqp_url"`

	Road   Road   `yaml:"road"`
	Matrix Matrix `yaml:"matrix"`
	Cache  Cache  `yaml:"cache"`
	Sim    Sim    `yaml:"sim"`

	Webhooks Webhooks `yaml:"webhooks"`
}

type Road struct {
	URL         string  `yaml:"url"`
	Profile     string  `yaml:"profile"`
	Batch       bool    `yaml:"batch"`
	RPS         float64 `yaml:"rps"`
	MaxAttempts int     `yaml:"max_attempts"`
}

type Matrix struct {
	Timeout     time.Duration `yaml:"timeout"`
	PairTimeout time.Duration `yaml:"pair_timeout"`
	Concurrency int           `yaml:"concurrency"`
}

type Cache struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

type Sim struct {
	// Tick is the wall-clock interval of the background loop; zero disables it.
	Tick            time.Duration `yaml:"tick"`
	Speed           float64       `yaml:"speed"`
	ReoptThreshold  int           `yaml:"reopt_threshold"`
	SegmentDuration time.Duration `yaml:"segment_duration"`
	ServiceDuration time.Duration `yaml:"service_duration"`
	StrictCapacity  bool          `yaml:"strict_capacity"`
	Mode            string        `yaml:"mode"`
}

type Webhooks struct {
	Subscriptions []WebhookSubscription `yaml:"subscriptions"`
	MaxAttempts   int                   `yaml:"max_attempts"`
	OutboxSize    int                   `yaml:"outbox_size"`
}

// WebhookSubscription receives events whose type starts with one of Events,
// or every event when Events is empty.
type WebhookSubscription struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Port: "8080",
		Road: Road{
			URL:         "https://router.project-osrm.org",
			Profile:     "driving",
			Batch:       true,
			RPS:         5,
			MaxAttempts: 3,
		},
		Matrix: Matrix{Timeout: 10 * time.Second, PairTimeout: 5 * time.Second, Concurrency: 8},
		Cache:  Cache{TTL: time.Hour, MaxEntries: 500},
		Sim: Sim{
			Speed:           1,
			ReoptThreshold:  3,
			SegmentDuration: 30 * time.Second,
			ServiceDuration: 10 * time.Second,
			Mode:            "road",
		},
		Webhooks: Webhooks{MaxAttempts: 10, OutboxSize: 1000},
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []string
	parse := func(key string, fn func(string) error) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		if err := fn(strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}

	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("AMQP_URL", &c.AMQPURL)
	str("OSRM_URL", &c.Road.URL)
	str("OSRM_PROFILE", &c.Road.Profile)
	str("SIM_MODE", &c.Sim.Mode)
	parse("ROAD_BATCH", func(v string) (err error) { c.Road.Batch, err = strconv.ParseBool(v); return })
	parse("ROAD_RPS", func(v string) (err error) { c.Road.RPS, err = strconv.ParseFloat(v, 64); return })
	parse("CACHE_TTL", func(v string) (err error) { c.Cache.TTL, err = time.ParseDuration(v); return })
	parse("CACHE_MAX_ENTRIES", func(v string) (err error) { c.Cache.MaxEntries, err = strconv.Atoi(v); return })
	parse("SIM_TICK", func(v string) (err error) { c.Sim.Tick, err = time.ParseDuration(v); return })
	parse("SIM_SPEED", func(v string) (err error) { c.Sim.Speed, err = strconv.ParseFloat(v, 64); return })
	parse("SIM_REOPT_THRESHOLD", func(v string) (err error) { c.Sim.ReoptThreshold, err = strconv.Atoi(v); return })
	parse("WEBHOOK_MAX_ATTEMPTS", func(v string) (err error) { c.Webhooks.MaxAttempts, err = strconv.Atoi(v); return })
	if v, ok := lookup("WEBHOOK_URL"); ok && strings.TrimSpace(v) != "" {
		secret, _ := lookup("WEBHOOK_SECRET")
		c.Webhooks.Subscriptions = append(c.Webhooks.Subscriptions, WebhookSubscription{
			URL:    strings.TrimSpace(v),
			Secret: strings.TrimSpace(secret),
		})
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CacheBackend names the cache store selected by the connection settings.
func (c Config) CacheBackend() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.RedisURL != "":
		return "redis"
	default:
		return "memory"
	}
}

// Redacted reports the settings safe to expose on a debug endpoint.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"port":              c.Port,
		"cacheBackend":      c.CacheBackend(),
		"hasRedisUrl":       c.RedisURL != "",
		"hasAmqpUrl":        c.AMQPURL != "",
		"roadUrl":           c.Road.URL,
		"roadProfile":       c.Road.Profile,
		"roadBatch":         c.Road.Batch,
		"roadRps":           c.Road.RPS,
		"cacheTtl":          c.Cache.TTL.String(),
		"cacheMaxEntries":   c.Cache.MaxEntries,
		"simTick":           c.Sim.Tick.String(),
		"simSpeed":          c.Sim.Speed,
		"simReoptThreshold": c.Sim.ReoptThreshold,
		"webhooks":          len(c.Webhooks.Subscriptions),
	}
}
