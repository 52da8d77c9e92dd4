package main

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/classlog/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the Classlog configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with -dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		_, _ = fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		_, _ = fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	// If dump requested, show full configuration with defaults highlighted
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, getDefaultConfig())

		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
	}

	return nil
}

// getDefaultConfig creates a configuration with default values
func getDefaultConfig() *config.Config {
	v := viper.New()
	config.SetDefaults(v)

	var cfg config.Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}

	return unknown, nil
}

// getValidKeys returns a set of all valid configuration keys
func getValidKeys() map[string]bool {
	return map[string]bool{
		// Server
		"server.http_port":       true,
		"server.metrics_port":    true,
		"server.bind_address":    true,
		"server.allowed_origins": true,

		// Storage
		"storage.type":                  true,
		"storage.redis.host":            true,
		"storage.redis.port":            true,
		"storage.redis.password":        true,
		"storage.redis.db":              true,
		"storage.redis.pool_size":       true,
		"storage.redis.min_idle_conns":  true,
		"storage.redis.dial_timeout":    true,
		"storage.redis.read_timeout":    true,
		"storage.redis.write_timeout":   true,
		"storage.redis.key_prefix":      true,
		"storage.postgres.host":         true,
		"storage.postgres.port":         true,
		"storage.postgres.user":         true,
		"storage.postgres.password":     true,
		"storage.postgres.dbname":       true,
		"storage.postgres.sslmode":      true,
		"storage.postgres.auto_migrate": true,

		// Logging
		"logging.level":  true,
		"logging.format": true,

		// Liveness
		"liveness.rotation_interval": true,
		"liveness.grace_period":      true,
		"liveness.write_timeout":     true,
		"liveness.resume_on_start":   true,

		// QR rendering
		"qr.size":       true,
		"qr.cache_size": true,
		"qr.cache_ttl":  true,
	}
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	// Server
	_, _ = cyan.Println("\n[server]")
	dumpField("  http_port", cfg.Server.HTTPPort, defaultCfg.Server.HTTPPort, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  allowed_origins", cfg.Server.AllowedOrigins, defaultCfg.Server.AllowedOrigins, yellow, green)

	// Storage
	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)
	dumpField("    key_prefix", cfg.Storage.Redis.KeyPrefix, defaultCfg.Storage.Redis.KeyPrefix, yellow, green)
	_, _ = cyan.Println("  [storage.postgres]")
	dumpField("    host", cfg.Storage.Postgres.Host, defaultCfg.Storage.Postgres.Host, yellow, green)
	dumpField("    port", cfg.Storage.Postgres.Port, defaultCfg.Storage.Postgres.Port, yellow, green)
	dumpField("    user", cfg.Storage.Postgres.User, defaultCfg.Storage.Postgres.User, yellow, green)
	dumpField("    password", redactPassword(cfg.Storage.Postgres.Password), redactPassword(defaultCfg.Storage.Postgres.Password), yellow, green)
	dumpField("    dbname", cfg.Storage.Postgres.DBName, defaultCfg.Storage.Postgres.DBName, yellow, green)
	dumpField("    sslmode", cfg.Storage.Postgres.SSLMode, defaultCfg.Storage.Postgres.SSLMode, yellow, green)
	dumpField("    auto_migrate", cfg.Storage.Postgres.AutoMigrate, defaultCfg.Storage.Postgres.AutoMigrate, yellow, green)

	// Logging
	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	// Liveness
	_, _ = cyan.Println("\n[liveness]")
	dumpField("  rotation_interval", cfg.Liveness.RotationInterval, defaultCfg.Liveness.RotationInterval, yellow, green)
	dumpField("  grace_period", cfg.Liveness.GracePeriod, defaultCfg.Liveness.GracePeriod, yellow, green)
	dumpField("  write_timeout", cfg.Liveness.WriteTimeout, defaultCfg.Liveness.WriteTimeout, yellow, green)
	dumpField("  resume_on_start", cfg.Liveness.ResumeOnStart, defaultCfg.Liveness.ResumeOnStart, yellow, green)

	// QR
	_, _ = cyan.Println("\n[qr]")
	dumpField("  size", cfg.QR.Size, defaultCfg.QR.Size, yellow, green)
	dumpField("  cache_size", cfg.QR.CacheSize, defaultCfg.QR.CacheSize, yellow, green)
	dumpField("  cache_ttl", cfg.QR.CacheTTL, defaultCfg.QR.CacheTTL, yellow, green)
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	valueStr := fmt.Sprintf("%v", value)

	if reflect.DeepEqual(value, defaultValue) {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
