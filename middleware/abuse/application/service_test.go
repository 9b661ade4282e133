package application

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"abuse-gateway/middleware/abuse/domain"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// mapStore é um ReputationStore sem lock, suficiente para testes sequenciais.
type mapStore struct {
	entries map[domain.Key]*domain.Entry
}

func newMapStore() *mapStore { return &mapStore{entries: make(map[domain.Key]*domain.Entry)} }

func (m *mapStore) Upsert(key domain.Key, init func() domain.Entry, fn func(e *domain.Entry, created bool)) {
	e, ok := m.entries[key]
	if !ok {
		v := init()
		e = &v
		m.entries[key] = e
	}
	fn(e, !ok)
}

func (m *mapStore) Update(key domain.Key, fn func(e *domain.Entry)) bool {
	e, ok := m.entries[key]
	if !ok {
		return false
	}
	fn(e)
	return true
}

const browserUA = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

func cleanReq(url string) domain.Request {
	return domain.Request{Addr: "203.0.113.7", URL: url, Method: "GET", UserAgent: browserUA}
}

func newTestService(t *testing.T, p domain.Policy) (*Service, *mapStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	store := newMapStore()
	svc, err := NewService(store, p,
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithBlockRefs(func() string { return "ref-1" }),
	)
	require.NoError(t, err)
	return svc, store, clock
}

func entryOf(t *testing.T, s *mapStore, req domain.Request) *domain.Entry {
	t.Helper()
	e, ok := s.entries[Fingerprint(req, 100, false)]
	require.True(t, ok, "expected entry for %q", req.Addr)
	return e
}

func TestService_Decide_AllowsWhenNoStore(t *testing.T) {
	svc, err := NewService(nil, domain.DefaultPolicy())
	require.NoError(t, err)

	v := svc.Decide(cleanReq("/"))
	require.True(t, v.Allowed())
	require.Zero(t, v.RetryAfter)
}

func TestService_FreshWindowAllowsUpToLimitMinusOne(t *testing.T) {
	svc, store, clock := newTestService(t, domain.DefaultPolicy())
	req := cleanReq("/products")

	for i := 1; i <= 49; i++ {
		v := svc.Decide(req)
		require.True(t, v.Allowed(), "request %d: got %s", i, v.Outcome)
		clock.Advance(time.Second)
	}

	e := entryOf(t, store, req)
	require.Equal(t, 49, e.RequestCount)
	require.Zero(t, e.SuspicionScore)
}

func TestService_FiftiethRequestIsRateLimited(t *testing.T) {
	svc, store, clock := newTestService(t, domain.DefaultPolicy())
	req := cleanReq("/products")

	for i := 1; i <= 49; i++ {
		svc.Decide(req)
		clock.Advance(time.Second)
	}

	// t0+49s; a janela termina em t0+60s
	v := svc.Decide(req)
	require.Equal(t, domain.OutcomeRateLimited, v.Outcome)
	require.Equal(t, 11, v.RetryAfterSeconds())

	e := entryOf(t, store, req)
	require.Equal(t, 40, e.SuspicionScore)
	require.False(t, e.Blocked(clock.Now()), "score 40 must not block")
}

func TestService_RolloverResetsCountButKeepsScore(t *testing.T) {
	svc, store, clock := newTestService(t, domain.DefaultPolicy())
	req := cleanReq("/products")

	for i := 1; i <= 50; i++ {
		svc.Decide(req)
		clock.Advance(time.Second)
	}
	e := entryOf(t, store, req)
	before := e.SuspicionScore
	require.NotZero(t, before)

	clock.Advance(time.Minute)
	v := svc.Decide(req)
	require.True(t, v.Allowed(), "new window: got %s", v.Outcome)
	require.Equal(t, 1, e.RequestCount)
	require.Equal(t, before, e.SuspicionScore)
}

func TestService_BlockedEntryShortCircuits(t *testing.T) {
	svc, store, clock := newTestService(t, domain.DefaultPolicy())
	req := cleanReq("/")
	svc.Decide(req)

	e := entryOf(t, store, req)
	e.RequestCount = 5
	e.SuspicionScore = 120
	e.BlockedUntil = clock.Now().Add(90 * time.Second)
	e.BlockRef = "old-ref"
	history := len(e.RecentURLs)

	attack := req
	attack.URL = "/.env?x=<script>"
	v := svc.Decide(attack)
	require.Equal(t, domain.OutcomeBlocked, v.Outcome)
	require.False(t, v.NewBlock)
	require.Equal(t, "old-ref", v.BlockRef)
	require.Equal(t, 90, v.RetryAfterSeconds())

	require.Equal(t, 5, e.RequestCount)
	require.Equal(t, 120, e.SuspicionScore)
	require.Len(t, e.RecentURLs, history, "history must stay untouched while blocked")
}

func TestService_SuspiciousClientHitsQuarteredLimitAndGetsMediumBlock(t *testing.T) {
	svc, store, clock := newTestService(t, domain.DefaultPolicy())
	req := cleanReq("/cart")
	svc.Decide(req)
	clock.Advance(time.Second)

	e := entryOf(t, store, req)
	e.SuspicionScore = 90

	var blocked domain.Decision
	sent := 0
	for i := 0; i < 13; i++ {
		v := svc.Decide(req)
		sent++
		if v.Outcome == domain.OutcomeBlocked {
			blocked = v.Decision
			break
		}
		require.True(t, v.Allowed(), "request %d before block: got %s", i, v.Outcome)
		clock.Advance(time.Second)
	}

	require.True(t, blocked.NewBlock, "expected a new block within 13 requests")
	// limite efetivo 50/4 = 12, a entrada já tinha 1 requisição
	require.Equal(t, 11, sent)
	require.Equal(t, 12, e.RequestCount)
	require.Equal(t, 130, e.SuspicionScore)
	require.Equal(t, 10*time.Minute, blocked.RetryAfter)
	require.True(t, e.BlockedUntil.Equal(clock.Now().Add(10*time.Minute)))
	require.Equal(t, "ref-1", blocked.BlockRef)
	require.Equal(t, "ref-1", e.BlockRef)
}

func TestService_BurstPenaltyOncePerQualifyingRequest(t *testing.T) {
	p := domain.DefaultPolicy()
	svc, store, _ := newTestService(t, p)
	req := cleanReq("/feed")

	for i := 1; i <= p.MaxBurstRequests; i++ {
		svc.Decide(req)
	}
	e := entryOf(t, store, req)
	require.Zero(t, e.SuspicionScore, "no burst penalty within %d requests", p.MaxBurstRequests)

	svc.Decide(req)
	require.Equal(t, p.Scoring.BurstPenalty, e.SuspicionScore)

	svc.Decide(req)
	require.Equal(t, 2*p.Scoring.BurstPenalty, e.SuspicionScore)
	require.Len(t, e.RecentTimestamps, p.PatternTrackingLimit)
	require.Len(t, e.RecentURLs, p.PatternTrackingLimit)
}

func TestService_WhitelistNeverScoresOrBlocks(t *testing.T) {
	p := domain.DefaultPolicy()
	p.Whitelist = []string{"10.0.0.0/8"}
	svc, store, _ := newTestService(t, p)

	req := domain.Request{Addr: "10.1.2.3", URL: "/.env", Method: "GET"}
	for i := 0; i < 500; i++ {
		v := svc.Decide(req)
		require.True(t, v.Allowed() && v.Whitelisted, "request %d: got %s", i, v.Outcome)
		require.True(t, svc.Observe(v, 500).Allowed())
	}
	require.Empty(t, store.entries)
}

func TestService_ConsecutiveFailurePenaltyOncePerStreak(t *testing.T) {
	p := domain.DefaultPolicy()
	svc, store, _ := newTestService(t, p)
	req := cleanReq("/missing")
	v := svc.Decide(req)
	e := entryOf(t, store, req)

	for i := 1; i <= 4; i++ {
		svc.Observe(v, 404)
	}
	require.Zero(t, e.SuspicionScore, "no penalty before threshold")

	svc.Observe(v, 404)
	require.Equal(t, p.Scoring.ConsecutiveFailurePenalty, e.SuspicionScore)

	svc.Observe(v, 500)
	svc.Observe(v, 500)
	require.Equal(t, p.Scoring.ConsecutiveFailurePenalty, e.SuspicionScore, "no re-trigger past threshold")
	require.Equal(t, 7, e.ConsecutiveFailures)

	svc.Observe(v, 200)
	require.Zero(t, e.ConsecutiveFailures)

	for i := 1; i <= 5; i++ {
		svc.Observe(v, 403)
	}
	require.Equal(t, 2*p.Scoring.ConsecutiveFailurePenalty, e.SuspicionScore, "new streak penalizes again")
}

func TestService_FailureStreakCanIssueLateBlock(t *testing.T) {
	svc, store, clock := newTestService(t, domain.DefaultPolicy())
	req := cleanReq("/login")
	v := svc.Decide(req)
	e := entryOf(t, store, req)
	e.SuspicionScore = 90

	var last domain.Decision
	for i := 1; i <= 5; i++ {
		last = svc.Observe(v, 401)
	}
	require.Equal(t, domain.OutcomeBlocked, last.Outcome)
	require.True(t, last.NewBlock)
	require.Equal(t, 10*time.Minute, last.RetryAfter, "score 110 is a medium block")
	require.True(t, e.Blocked(clock.Now()))

	next := svc.Decide(req)
	require.Equal(t, domain.OutcomeBlocked, next.Outcome)
	require.False(t, next.NewBlock)
}

func TestService_ObserveUnknownKeyIsNoop(t *testing.T) {
	svc, store, _ := newTestService(t, domain.DefaultPolicy())

	require.True(t, svc.Observe(Verdict{Key: "ghost|ua"}, 500).Allowed())
	require.Empty(t, store.entries)
}

func TestService_SetPolicyRejectsInvalidAndKeepsPrevious(t *testing.T) {
	svc, _, _ := newTestService(t, domain.DefaultPolicy())

	bad := domain.DefaultPolicy()
	bad.Signatures = []string{"(unclosed"}
	require.ErrorIs(t, svc.SetPolicy(bad), domain.ErrInvalidPolicy)
	require.Len(t, svc.Policy().Signatures, len(domain.DefaultSignatures))

	tight := domain.DefaultPolicy()
	tight.MaxRequestsPerMinute = 3
	require.NoError(t, svc.SetPolicy(tight))
	require.Equal(t, 3, svc.Policy().MaxRequestsPerMinute)
}

func TestNewService_RejectsBadWhitelist(t *testing.T) {
	p := domain.DefaultPolicy()
	p.Whitelist = []string{"not-an-ip"}

	_, err := NewService(newMapStore(), p)
	require.ErrorIs(t, err, domain.ErrInvalidPolicy)
}

func TestService_RepeatedQueryKeysCountAsParams(t *testing.T) {
	p := domain.DefaultPolicy()
	svc, store, _ := newTestService(t, p)

	url := "/search?q=1"
	for i := 0; i < p.Scoring.MaxQueryParams; i++ {
		url += "&q=1"
	}
	req := cleanReq(url)
	svc.Decide(req)
	svc.Decide(req)

	require.Equal(t, p.Scoring.HighEntropyParamsPenalty, entryOf(t, store, req).SuspicionScore)
}
