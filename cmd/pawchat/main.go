package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.pawchat/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
}

// ConfigDefault holds endpoint and identity settings.
type ConfigDefault struct {
	BaseURL  string `toml:"base_url"`
	WSURL    string `toml:"ws_url"`
	UserID   int64  `toml:"user_id"`
	PageSize int    `toml:"page_size,omitempty"`
}

// ConfigAuth holds the bearer token issued at login.
type ConfigAuth struct {
	Token string `toml:"token"`
}

// ============================================================================
// Config store
// ============================================================================

// configStore is the TOML file holding a Config. PAWCHAT_CONFIG overrides
// the default ~/.pawchat/config.toml.
type configStore struct {
	path string
}

func defaultConfigStore() (configStore, error) {
	if p := os.Getenv("PAWCHAT_CONFIG"); p != "" {
		return configStore{path: p}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return configStore{}, fmt.Errorf("cannot determine home directory: %w", err)
	}
	return configStore{path: filepath.Join(home, ".pawchat", "config.toml")}, nil
}

// load returns the stored config, or a zero Config when the file is absent.
func (s configStore) load() (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return cfg, nil
}

// save writes cfg with owner-only permissions; it holds the token.
func (s configStore) save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// ============================================================================
// Config fields
// ============================================================================

// configField binds a "section.field" key to its environment override and
// its slot in Config.
type configField struct {
	key    string
	env    string
	secret bool
	get    func(*Config) string
	set    func(*Config, string) error
}

func positiveInt(key string, dst func(*Config, int64)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer, got %q", key, v)
		}
		dst(cfg, n)
		return nil
	}
}

func formatPositive(n int64) string {
	if n <= 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}

var configFields = []configField{
	{
		key: "default.base_url", env: "PAWCHAT_BASE_URL",
		get: func(c *Config) string { return c.Default.BaseURL },
		set: func(c *Config, v string) error { c.Default.BaseURL = v; return nil },
	},
	{
		key: "default.ws_url", env: "PAWCHAT_WS_URL",
		get: func(c *Config) string { return c.Default.WSURL },
		set: func(c *Config, v string) error { c.Default.WSURL = v; return nil },
	},
	{
		key: "default.user_id", env: "PAWCHAT_USER_ID",
		get: func(c *Config) string { return formatPositive(c.Default.UserID) },
		set: positiveInt("user_id", func(c *Config, n int64) { c.Default.UserID = n }),
	},
	{
		key: "default.page_size", env: "PAWCHAT_PAGE_SIZE",
		get: func(c *Config) string { return formatPositive(int64(c.Default.PageSize)) },
		set: positiveInt("page_size", func(c *Config, n int64) { c.Default.PageSize = int(n) }),
	},
	{
		key: "auth.token", env: "PAWCHAT_TOKEN", secret: true,
		get: func(c *Config) string { return c.Auth.Token },
		set: func(c *Config, v string) error { c.Auth.Token = v; return nil },
	},
}

func lookupField(key string) (*configField, error) {
	for i := range configFields {
		if configFields[i].key == key {
			return &configFields[i], nil
		}
	}
	keys := make([]string, len(configFields))
	for i, f := range configFields {
		keys[i] = f.key
	}
	return nil, fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(keys, ", "))
}

func setConfigValue(cfg *Config, key, value string) error {
	f, err := lookupField(key)
	if err != nil {
		return err
	}
	return f.set(cfg, value)
}

// applyEnv overlays PAWCHAT_* variables, from the process environment and
// a .env file in the working directory, onto cfg. It returns the keys that
// were overridden, mapped to the variable that set them.
func applyEnv(cfg *Config) (map[string]string, error) {
	_ = godotenv.Load()

	overridden := make(map[string]string)
	for _, f := range configFields {
		v := os.Getenv(f.env)
		if v == "" {
			continue
		}
		if err := f.set(cfg, v); err != nil {
			return nil, fmt.Errorf("%s: %w", f.env, err)
		}
		overridden[f.key] = f.env
	}
	return overridden, nil
}

// ============================================================================
// Root command
// ============================================================================

var (
	flagLogJSON     bool
	flagVerbose     bool
	flagMetricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "pawchat",
	Short: "PawTrail chat CLI",
	Long:  "Command-line client for PawTrail chat rooms.\nRead history, inspect rooms, and chat live with the owner or finder of a pet.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger(flagLogJSON, flagVerbose)
		return startMetrics(flagMetricsAddr)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "Write logs as JSON")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
