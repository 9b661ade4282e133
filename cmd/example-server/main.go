package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"abuse-gateway/middleware/abuse"
	"abuse-gateway/middleware/abuse/application"
	"abuse-gateway/middleware/abuse/domain"
	"abuse-gateway/middleware/abuse/infra"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Exemplo: injetando o gate diretamente no seu webserver (sem proxy)
	store := infra.NewMemoryStore(infra.WithStoreLogger(logger))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	policy := domain.DefaultPolicy()
	policy.MaxRequestsPerMinute = 30
	policy.Whitelist = []string{"127.0.0.1", "::1"}

	svc, err := application.NewService(store, policy, application.WithLogger(logger))
	if err != nil {
		logger.Error("invalid policy", "error", err)
		os.Exit(1)
	}

	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		t := stats.Total()
		_, _ = w.Write([]byte("allowed=" + formatInt(t.Allowed) +
			" rate_limited=" + formatInt(t.RateLimited) +
			" blocked=" + formatInt(t.Blocked) +
			" tracked=" + formatInt(int64(store.Len())) + "\n"))
	})

	// Sem proxy na frente: o endereço vem só de RemoteAddr. Confiar em
	// X-Forwarded-For aqui deixaria qualquer cliente se passar por 127.0.0.1.
	h := abuse.Middleware(abuse.Options{
		Service: svc,
		Stats:   stats,
		Logger:  logger,
	})(mux)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }
