package abuse

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"abuse-gateway/middleware/abuse/application"
	"abuse-gateway/middleware/abuse/domain"
)

type Options struct {
	Service *application.Service
	Stats   domain.StatsStore

	AddrFn AddrFunc
	// AddrHeaders é a ordem de preferência de headers de endereço (ex.: ProxyHeaders).
	// Vazio usa só RemoteAddr. Ignorado se AddrFn for informado.
	AddrHeaders []string

	Logger *slog.Logger
}

type gate struct {
	opts Options
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Service == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.AddrFn == nil {
		opts.AddrFn = DefaultAddrFunc(opts.AddrHeaders)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	g := &gate{opts: opts}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var v application.Verdict
			if !g.safe(r, "decide", func() { v = opts.Service.Decide(Describe(r, opts.AddrFn)) }) {
				next.ServeHTTP(w, r)
				return
			}
			g.record(r, v.Key, v.Outcome)

			if !v.Allowed() {
				writeDenial(w, v.Decision)
				return
			}

			sw := &statusWriter{
				ResponseWriter: w,
				observe: func(status int) domain.Decision {
					dec := domain.Allow()
					g.safe(r, "observe", func() { dec = opts.Service.Observe(v, status) })
					if dec.Outcome == domain.OutcomeBlocked {
						g.record(r, v.Key, dec.Outcome)
					}
					return dec
				},
			}
			next.ServeHTTP(sw, r)
			sw.finish()
		})
	}
}

// safe roda fn e converte qualquer panic em fail-open logado.
func (g *gate) safe(r *http.Request, stage string, fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			g.opts.Logger.Error("abuse gate fault, failing open",
				"stage", stage,
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()))
			ok = false
		}
	}()
	fn()
	return true
}

func (g *gate) record(r *http.Request, key domain.Key, outcome domain.Outcome) {
	if g.opts.Stats == nil {
		return
	}
	err := g.opts.Stats.Record(r.Context(), domain.StatsEvent{
		Key:     key,
		Outcome: outcome,
		Method:  r.Method,
		Path:    r.URL.Path,
		At:      time.Now(),
	})
	if err != nil {
		g.opts.Logger.Debug("abuse stats record failed", "error", err)
	}
}
