package application

import (
	"log/slog"
	"sync/atomic"
	"time"

	"abuse-gateway/middleware/abuse/domain"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Service é o motor de decisão do gate.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna vereditos e
// recebe o status final para atualizar a reputação.
type Service struct {
	store    domain.ReputationStore
	policy   atomic.Pointer[compiledPolicy]
	now      func() time.Time
	logger   *slog.Logger
	hashKeys bool
	newRef   func() string

	// rate limit é rotineiro; loga no máximo uma linha por segundo.
	limitedLog rate.Sometimes
}

type Option func(*Service)

// WithClock troca a fonte de tempo (testes).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHashedKeys faz o fingerprint guardar SHA-256 no lugar de IP + user-agent.
func WithHashedKeys(hashed bool) Option {
	return func(s *Service) { s.hashKeys = hashed }
}

// WithBlockRefs troca o gerador de referência de bloqueio (padrão: uuid).
func WithBlockRefs(fn func() string) Option {
	return func(s *Service) { s.newRef = fn }
}

// Verdict é a decisão junto com a chave avaliada, usada depois em Observe.
type Verdict struct {
	domain.Decision
	Key         domain.Key
	Whitelisted bool
}

func NewService(store domain.ReputationStore, p domain.Policy, opts ...Option) (*Service, error) {
	s := &Service{
		store:      store,
		now:        time.Now,
		logger:     slog.Default(),
		newRef:     uuid.NewString,
		limitedLog: rate.Sometimes{Interval: time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.SetPolicy(p); err != nil {
		return nil, err
	}
	return s, nil
}

// SetPolicy valida e troca a política em uso. Requisições em andamento
// terminam com a política antiga.
func (s *Service) SetPolicy(p domain.Policy) error {
	cp, err := compilePolicy(p)
	if err != nil {
		return err
	}
	s.policy.Store(cp)
	return nil
}

func (s *Service) Policy() domain.Policy {
	return s.policy.Load().Policy
}

// Decide classifica a requisição antes do handler.
func (s *Service) Decide(req domain.Request) Verdict {
	cp := s.policy.Load()
	if cp.whitelist.Contains(req.Addr) {
		return Verdict{Decision: domain.Allow(), Whitelisted: true}
	}
	if s.store == nil {
		return Verdict{Decision: domain.Allow()}
	}

	key := Fingerprint(req, cp.Scoring.UserAgentKeyLength, s.hashKeys)
	now := s.now()

	var dec domain.Decision
	s.store.Upsert(key,
		func() domain.Entry { return domain.NewEntry(now, cp.StandardWindow, cp.Scoring.InitialScore) },
		func(e *domain.Entry, created bool) {
			dec = s.decide(cp, key, e, created, req, now)
		},
	)
	return Verdict{Decision: dec, Key: key}
}

func (s *Service) decide(cp *compiledPolicy, key domain.Key, e *domain.Entry, created bool, req domain.Request, now time.Time) domain.Decision {
	if e.Blocked(now) {
		return domain.Blocked(e.BlockedUntil.Sub(now), e.BlockRef, false)
	}

	// Cliente novo ou janela nova: o reset para 1 já contou esta requisição
	// e ela passa sem pontuação.
	if created || e.RolloverIfExpired(now, cp.StandardWindow) {
		recordPattern(e, req.URL, now, cp.PatternTrackingLimit)
		return domain.Allow()
	}

	e.SuspicionScore += cp.detector.Score(req) + TrackPattern(e, req.URL, now, cp.Policy)

	limit := effectiveLimit(cp.Policy, e.SuspicionScore)
	e.RequestCount++
	if e.RequestCount < limit {
		return domain.Allow()
	}

	e.SuspicionScore += cp.Scoring.RateLimitHitPenalty
	if e.SuspicionScore >= cp.SuspiciousThreshold {
		return s.block(cp, key, e, now, "rate_limit")
	}

	retry := e.WindowResetAt.Sub(now)
	s.limitedLog.Do(func() {
		s.logger.Info("client rate limited",
			"key", string(key),
			"count", e.RequestCount,
			"limit", limit,
			"score", e.SuspicionScore,
			"retry_after", retry)
	})
	return domain.RateLimited(retry)
}

// Observe atualiza a reputação com o status efetivamente produzido pelo
// handler. Retorna Blocked quando a sequência de falhas gera um bloqueio
// tardio; nesse caso a resposta do handler deve ser substituída.
func (s *Service) Observe(v Verdict, status int) domain.Decision {
	if v.Whitelisted || v.Key == "" || s.store == nil {
		return domain.Allow()
	}
	cp := s.policy.Load()
	now := s.now()

	dec := domain.Allow()
	s.store.Update(v.Key, func(e *domain.Entry) {
		if status < 400 {
			e.ConsecutiveFailures = 0
			return
		}
		e.ConsecutiveFailures++
		// Penaliza uma vez por cruzamento do limiar; 6, 7, ... não somam de novo.
		if e.ConsecutiveFailures != cp.MaxConsecutiveFailures {
			return
		}
		e.SuspicionScore += cp.Scoring.ConsecutiveFailurePenalty
		if e.SuspicionScore >= cp.SuspiciousThreshold && !e.Blocked(now) {
			dec = s.block(cp, v.Key, e, now, "consecutive_failures")
		}
	})
	return dec
}

func (s *Service) block(cp *compiledPolicy, key domain.Key, e *domain.Entry, now time.Time, reason string) domain.Decision {
	d := blockDuration(cp.Policy, e.SuspicionScore)
	e.BlockedUntil = now.Add(d)
	e.BlockRef = s.newRef()

	s.logger.Warn("client blocked",
		"key", string(key),
		"reason", reason,
		"score", e.SuspicionScore,
		"duration", d,
		"block_ref", e.BlockRef)
	return domain.Blocked(d, e.BlockRef, true)
}
