// Package config loads runtime configuration: environment first, with a
// .env file as a development convenience.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	ListenAddr string
	DataDir    string

	RedisURL string // empty means in-process state (standalone mode)

	HostsPath    string
	BackupDir    string
	BlockDomains []string

	RulesFile string

	PairingSecret    string
	AdminCredHash    string // bcrypt hash of the admin credential header
	HeartbeatMaxSkew time.Duration
	RateCapacity     int
	RateRefillPerSec float64

	LookbackMinutes      int
	SampleInterval       time.Duration
	DistractionThreshold int

	MonitorInterval    time.Duration
	MonitorNoiseStreak int
}

// Load reads configuration from the environment (PT_ prefix), after
// loading .env if present. Secrets have no defaults on purpose.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("PT")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", "127.0.0.1:8787")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("redis_url", "")
	v.SetDefault("hosts_path", "/etc/hosts")
	v.SetDefault("backup_dir", "./data/backups")
	v.SetDefault("block_domains", []string{
		"youtube.com", "m.youtube.com", "tiktok.com", "www.reddit.com",
		"reddit.com", "x.com", "twitter.com", "instagram.com",
		"www.instagram.com", "facebook.com", "www.facebook.com",
		"netflix.com", "www.netflix.com",
	})
	v.SetDefault("rules_file", "")
	v.SetDefault("heartbeat_max_skew", "5m")
	v.SetDefault("rate_capacity", 5)
	v.SetDefault("rate_refill_per_sec", 0.5)
	v.SetDefault("lookback_minutes", 60)
	v.SetDefault("sample_interval", "15s")
	v.SetDefault("distraction_threshold", 3)
	v.SetDefault("monitor_interval", "5s")
	v.SetDefault("monitor_noise_streak", 3)

	cfg := &Config{
		ListenAddr:           v.GetString("listen_addr"),
		DataDir:              v.GetString("data_dir"),
		RedisURL:             v.GetString("redis_url"),
		HostsPath:            v.GetString("hosts_path"),
		BackupDir:            v.GetString("backup_dir"),
		BlockDomains:         v.GetStringSlice("block_domains"),
		RulesFile:            v.GetString("rules_file"),
		PairingSecret:        v.GetString("pairing_secret"),
		AdminCredHash:        v.GetString("admin_cred_hash"),
		HeartbeatMaxSkew:     v.GetDuration("heartbeat_max_skew"),
		RateCapacity:         v.GetInt("rate_capacity"),
		RateRefillPerSec:     v.GetFloat64("rate_refill_per_sec"),
		LookbackMinutes:      v.GetInt("lookback_minutes"),
		SampleInterval:       v.GetDuration("sample_interval"),
		DistractionThreshold: v.GetInt("distraction_threshold"),
		MonitorInterval:      v.GetDuration("monitor_interval"),
		MonitorNoiseStreak:   v.GetInt("monitor_noise_streak"),
	}

	if cfg.PairingSecret == "" {
		return nil, fmt.Errorf("PT_PAIRING_SECRET must be set")
	}
	if cfg.AdminCredHash == "" {
		return nil, fmt.Errorf("PT_ADMIN_CRED_HASH must be set")
	}
	return cfg, nil
}
