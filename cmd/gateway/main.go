package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"abuse-gateway/internal/logging"
	"abuse-gateway/middleware/abuse"
	"abuse-gateway/middleware/abuse/application"
	"abuse-gateway/middleware/abuse/domain"
	"abuse-gateway/middleware/abuse/infra"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.log)
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway stopped", "error", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", "path", r.URL.Path, "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	h := http.Handler(proxy)
	if cfg.abuseEnabled {
		policy, err := loadPolicy(cfg)
		if err != nil {
			return err
		}

		store := infra.NewMemoryStore(
			infra.WithCleanupEvery(policy.CleanupInterval),
			infra.WithStoreLogger(logger),
		)
		store.StartJanitor(ctx)

		svc, err := application.NewService(store, policy,
			application.WithLogger(logger),
			application.WithHashedKeys(cfg.hashKeys),
		)
		if err != nil {
			return err
		}

		if cfg.policyFile != "" && cfg.policyWatch {
			whitelist := cfg.whitelist
			err := infra.WatchPolicyFile(ctx, cfg.policyFile, logger, func(p domain.Policy) error {
				if len(p.Whitelist) == 0 {
					p.Whitelist = whitelist
				}
				if err := svc.SetPolicy(p); err != nil {
					return err
				}
				// cleanup_interval também recarrega: o janitor é rearmado.
				store.SetCleanupEvery(p.CleanupInterval)
				return nil
			})
			if err != nil {
				return err
			}
		}

		statsStore, closeStats, err := openStats(cfg)
		if err != nil {
			return err
		}
		defer closeStats()

		var addrHeaders []string
		if cfg.trustXFF {
			addrHeaders = abuse.ProxyHeaders
		}
		h = abuse.Middleware(abuse.Options{
			Service:     svc,
			Stats:       statsStore,
			AddrHeaders: addrHeaders,
			Logger:      logger,
		})(h)

		logger.Info("abuse gate enabled",
			"max_per_minute", policy.MaxRequestsPerMinute,
			"burst", policy.MaxBurstRequests,
			"threshold", policy.SuspiciousThreshold,
			"whitelist", strings.Join(policy.Whitelist, ","),
			"policy_file", cfg.policyFile,
			"watch", cfg.policyWatch,
			"hash_keys", cfg.hashKeys,
			"trust_xff", cfg.trustXFF)
	}

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening", "addr", cfg.listenAddr, "upstream", target.String())
	logger.Info("stats", "enabled", cfg.statsEnabled, "redis_addr", cfg.statsRedisAddr, "ttl", cfg.statsTTL, "track_keys", cfg.statsTrackKeys)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// loadPolicy parte do DefaultPolicy, aplica o arquivo (se houver) e a
// whitelist do ambiente quando o arquivo não define uma.
func loadPolicy(cfg config) (domain.Policy, error) {
	p := domain.DefaultPolicy()
	if cfg.policyFile != "" {
		var err error
		if p, err = infra.LoadPolicyFile(cfg.policyFile); err != nil {
			return domain.Policy{}, err
		}
	}
	if len(p.Whitelist) == 0 {
		p.Whitelist = cfg.whitelist
	}
	return p, nil
}

func openStats(cfg config) (domain.StatsStore, func(), error) {
	if !cfg.statsEnabled {
		return nil, func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.statsRedisAddr,
		Password: cfg.statsRedisPassword,
		DB:       cfg.statsRedisDB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_, err := rdb.Ping(pingCtx).Result()
	cancel()
	if err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis stats ping error: %w", err)
	}

	s := infra.NewRedisStatsStore(
		rdb,
		infra.WithStatsPrefix(cfg.statsPrefix),
		infra.WithStatsTTL(cfg.statsTTL),
		infra.WithStatsBucket(cfg.statsBucket),
		infra.WithStatsTrackKeys(cfg.statsTrackKeys),
	)
	return s, func() { _ = rdb.Close() }, nil
}

type config struct {
	listenAddr   string
	upstreamURL  string
	trustXFF     bool
	hashKeys     bool
	abuseEnabled bool
	policyFile   string
	policyWatch  bool
	whitelist    []string

	log logging.Config

	statsEnabled       bool
	statsRedisAddr     string
	statsRedisPassword string
	statsRedisDB       int
	statsPrefix        string
	statsTTL           time.Duration
	statsBucket        string
	statsTrackKeys     bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.hashKeys = getenvBoolDefault("HASH_KEYS", false)
	cfg.abuseEnabled = getenvBoolDefault("ABUSE_ENABLED", true)
	cfg.policyFile = os.Getenv("ABUSE_POLICY_FILE")
	cfg.policyWatch = getenvBoolDefault("ABUSE_POLICY_WATCH", false)
	cfg.whitelist = splitList(getenvDefault("ABUSE_WHITELIST", "127.0.0.1,::1"))

	cfg.log = logging.Config{
		Level:      getenvDefault("LOG_LEVEL", "info"),
		JSON:       getenvBoolDefault("LOG_JSON", false),
		File:       os.Getenv("LOG_FILE"),
		MaxSizeMB:  getenvIntDefault("LOG_MAX_SIZE_MB", 10),
		MaxBackups: getenvIntDefault("LOG_MAX_BACKUPS", 3),
	}

	cfg.statsEnabled = getenvBoolDefault("STATS_ENABLED", false)
	cfg.statsRedisAddr = getenvDefault("STATS_REDIS_ADDR", "")
	cfg.statsRedisPassword = os.Getenv("STATS_REDIS_PASSWORD")
	cfg.statsRedisDB = getenvIntDefault("STATS_REDIS_DB", 0)
	cfg.statsPrefix = getenvDefault("STATS_PREFIX", "abuse:stats")
	cfg.statsTTL = getenvDurationDefault("STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("STATS_BUCKET", "minute")
	cfg.statsTrackKeys = getenvBoolDefault("STATS_TRACK_KEYS", false)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.statsEnabled && strings.TrimSpace(cfg.statsRedisAddr) == "" {
		return config{}, errors.New("STATS_REDIS_ADDR is required when STATS_ENABLED=true")
	}
	if cfg.policyWatch && cfg.policyFile == "" {
		return config{}, errors.New("ABUSE_POLICY_WATCH requires ABUSE_POLICY_FILE")
	}
	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
