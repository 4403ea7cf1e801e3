package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pawtrail/pawchat"
)

var (
	logger   = zerolog.Nop()
	registry = prometheus.NewRegistry()
	metrics  *pawchat.Metrics
)

func setupLogger(jsonOutput, verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	if jsonOutput {
		logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
		return
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// startMetrics registers the client collectors and, when addr is set,
// serves them on /metrics.
func startMetrics(addr string) error {
	if metrics == nil {
		metrics = pawchat.NewMetrics(registry)
		registry.MustRegister(collectors.NewGoCollector())
	}
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
	return nil
}

// effectiveConfig is the stored config with environment overrides applied.
type effectiveConfig struct {
	*Config
	store configStore
	// env maps each overridden key to the variable that set it.
	env map[string]string
}

func loadEffectiveConfig() (*effectiveConfig, error) {
	store, err := defaultConfigStore()
	if err != nil {
		return nil, err
	}
	cfg, err := store.load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	env, err := applyEnv(cfg)
	if err != nil {
		return nil, err
	}
	return &effectiveConfig{Config: cfg, store: store, env: env}, nil
}

// tokenSource prefers a token from the environment and otherwise re-reads
// the config file on every connect, so a new `pawchat init` is picked up.
func (e *effectiveConfig) tokenSource() pawchat.TokenSource {
	if _, ok := e.env["auth.token"]; ok {
		return pawchat.StaticToken(e.Auth.Token)
	}
	return pawchat.FileTokenStore{Path: e.store.path}
}

func sessionConfig(cfg *Config) pawchat.Config {
	return pawchat.Config{
		BaseURL:      cfg.Default.BaseURL,
		WebSocketURL: cfg.Default.WSURL,
		UserID:       cfg.Default.UserID,
		PageSize:     cfg.Default.PageSize,
	}
}

// newSession builds a chat session from the effective configuration.
func newSession() (*pawchat.Session, *Config, error) {
	cfg, err := loadEffectiveConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Auth.Token == "" {
		return nil, nil, errors.New("no token. Run 'pawchat init <token> --user-id N' first")
	}
	sess, err := pawchat.NewSession(sessionConfig(cfg.Config),
		pawchat.WithTokenSource(cfg.tokenSource()),
		pawchat.WithSessionNormalizer(pawchat.Normalizer{Location: time.Local}),
		pawchat.WithOptions(
			pawchat.WithLogger(logger),
			pawchat.WithMetrics(metrics),
		),
	)
	if err != nil {
		return nil, nil, err
	}
	return sess, cfg.Config, nil
}

// maskKey shows the first 6 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:6] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

func formatMessage(m pawchat.Message, selfID int64) string {
	who := fmt.Sprintf("#%d", m.SenderID)
	if m.SenderID == selfID {
		who = "me"
	}
	mark := ""
	if m.IsTemp() {
		mark = " (sending)"
	}
	return fmt.Sprintf("[%s] %s: %s%s", m.Time.Local().Format("01-02 15:04"), who, m.Text, mark)
}
