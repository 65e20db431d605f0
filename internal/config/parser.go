// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	// Parse storage settings (required).
	cfg.Storage = models.StorageSettings{
		Root: p.expandEnv(p.v.GetString("storage.root")),
		Host: p.v.GetString("storage.host"),
	}

	if cfg.Storage.Root == "" {
		return nil, fmt.Errorf("storage.root is required")
	}

	// Set default host if not specified.
	if cfg.Storage.Host == "" {
		hostname, err := os.Hostname()
		if err != nil {
			cfg.Storage.Host = "unknown"
		} else {
			cfg.Storage.Host = hostname
		}
	}

	sources := p.v.GetStringSlice("sources")
	if len(sources) == 0 {
		return nil, fmt.Errorf("sources is required")
	}
	for _, src := range sources {
		cfg.Sources = append(cfg.Sources, p.expandEnv(src))
	}

	// Parse retention policy. Zero is a valid window, so only an absent key
	// gets the default.
	cfg.Retention.MaxAgeDays = 30
	if p.v.IsSet("retention.max_age_days") {
		cfg.Retention.MaxAgeDays = p.v.GetInt("retention.max_age_days")
	}

	// Parse sync settings.
	cfg.Sync = models.SyncSettings{
		Engine:    p.v.GetString("sync.engine"),
		RsyncPath: p.v.GetString("sync.rsync_path"),
		ExtraArgs: p.v.GetStringSlice("sync.extra_args"),
		Timeout:   p.v.GetDuration("sync.timeout"),
		Parallel:  p.v.GetBool("sync.parallel"),
	}
	if cfg.Sync.Engine == "" {
		cfg.Sync.Engine = models.SyncEngineRsync
	}
	if cfg.Sync.RsyncPath == "" {
		cfg.Sync.RsyncPath = "rsync"
	}

	// Parse lock settings.
	cfg.Lock = models.LockSettings{
		Enabled: true,
		Timeout: p.v.GetDuration("lock.timeout"),
	}
	if p.v.IsSet("lock.enabled") {
		cfg.Lock.Enabled = p.v.GetBool("lock.enabled")
	}
	if cfg.Lock.Timeout == 0 {
		cfg.Lock.Timeout = time.Minute
	}

	cfg.Metrics.Textfile = p.expandEnv(p.v.GetString("metrics.textfile"))
	cfg.Schedule = p.v.GetString("schedule")

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			PollURL:       p.v.GetString("wol.poll_url"),
			StoragePath:   p.expandEnv(p.v.GetString("wol.storage_path")),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
		}

		// Set defaults.
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.StoragePath == "" {
			cfg.WOL.StoragePath = cfg.Storage.Root
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional PostgreSQL config.
	if p.v.IsSet("postgres") { //nolint:nestif // config parsing with defaults
		cfg.Postgres = &models.PostgresConfig{
			Host:     p.v.GetString("postgres.host"),
			Port:     p.v.GetInt("postgres.port"),
			Database: p.v.GetString("postgres.database"),
			Username: p.v.GetString("postgres.username"),
			Password: p.expandEnv(p.v.GetString("postgres.password")),
			Format:   p.v.GetString("postgres.format"),
			DumpDir:  p.expandEnv(p.v.GetString("postgres.dump_dir")),
		}

		if cfg.Postgres.Host == "" {
			cfg.Postgres.Host = "localhost"
		}
		if cfg.Postgres.Port == 0 {
			cfg.Postgres.Port = 5432
		}
		if cfg.Postgres.Database == "" {
			return nil, fmt.Errorf("postgres.database is required when postgres is configured")
		}
		if cfg.Postgres.Username == "" {
			cfg.Postgres.Username = "postgres"
		}
		if cfg.Postgres.Format == "" {
			cfg.Postgres.Format = "custom"
		}

		if cfg.Postgres.DumpDir == "" {
			return nil, fmt.Errorf("postgres.dump_dir is required when postgres is configured")
		}

		// Validate format.
		validFormats := map[string]bool{"custom": true, "plain": true, "tar": true}
		if !validFormats[cfg.Postgres.Format] {
			return nil, fmt.Errorf("postgres.format must be one of: custom, plain, tar")
		}
	}

	// Parse optional SSH shutdown config.
	if p.v.IsSet("ssh_shutdown") { //nolint:nestif // config parsing with defaults
		cfg.SSHShutdown = &models.SSHShutdownConfig{
			Host:          p.v.GetString("ssh_shutdown.host"),
			Port:          p.v.GetInt("ssh_shutdown.port"),
			Username:      p.v.GetString("ssh_shutdown.username"),
			KeyPath:       p.expandEnv(p.v.GetString("ssh_shutdown.key_path")),
			KnownHosts:    p.expandEnv(p.v.GetString("ssh_shutdown.known_hosts")),
			ShutdownDelay: p.v.GetInt("ssh_shutdown.shutdown_delay"),
			OS:            p.v.GetString("ssh_shutdown.os"),
			OnFailure:     p.v.GetBool("ssh_shutdown.on_failure"),
		}

		if cfg.SSHShutdown.Host == "" {
			return nil, fmt.Errorf("ssh_shutdown.host is required when ssh_shutdown is configured")
		}
		if cfg.SSHShutdown.Port == 0 {
			cfg.SSHShutdown.Port = 22
		}
		if cfg.SSHShutdown.Username == "" {
			cfg.SSHShutdown.Username = "root"
		}
		if cfg.SSHShutdown.KeyPath == "" {
			return nil, fmt.Errorf("ssh_shutdown.key_path is required when ssh_shutdown is configured")
		}
		if cfg.SSHShutdown.ShutdownDelay == 0 {
			cfg.SSHShutdown.ShutdownDelay = 1
		}
		// Validate and default OS
		if cfg.SSHShutdown.OS == "" {
			cfg.SSHShutdown.OS = "linux"
		}
		validOS := map[string]bool{"linux": true, "windows": true}
		if !validOS[cfg.SSHShutdown.OS] {
			return nil, fmt.Errorf("ssh_shutdown.os must be one of: linux, windows")
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	return cfg, Validate(cfg)
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}

	if strings.ContainsRune(cfg.Storage.Host, filepath.Separator) || cfg.Storage.Host == ".." {
		return fmt.Errorf("storage.host %q must be a single path element", cfg.Storage.Host)
	}

	if len(cfg.Sources) == 0 {
		return fmt.Errorf("sources is required")
	}

	if cfg.Retention.MaxAgeDays < 0 {
		return fmt.Errorf("retention.max_age_days must be >= 0")
	}

	switch cfg.Sync.Engine {
	case models.SyncEngineRsync, models.SyncEngineNative:
	default:
		return fmt.Errorf("sync.engine must be one of: %s, %s", models.SyncEngineRsync, models.SyncEngineNative)
	}

	if cfg.Sync.Timeout < 0 {
		return fmt.Errorf("sync.timeout must be >= 0")
	}

	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
	}

	return nil
}
