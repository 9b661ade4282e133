package infra

import (
	"log/slog"
	"sync"
	"time"

	"abuse-gateway/middleware/abuse/domain"
)

// MemoryStore é o ReputationStore em memória do processo.
//
// O mapa é protegido por um mutex global só para lookup/insert; cada entrada
// tem o seu próprio lock, então requisições da mesma chave são serializadas e
// chaves diferentes não disputam entre si.
type MemoryStore struct {
	mu           sync.Mutex
	entries      map[domain.Key]*slot
	cleanupEvery time.Duration
	now          func() time.Time
	logger       *slog.Logger

	// rearm avisa o janitor que cleanupEvery mudou.
	rearm chan struct{}
}

type slot struct {
	mu    sync.Mutex
	entry domain.Entry
	// dead marca um slot removido pelo sweeper enquanto alguém esperava o lock.
	dead bool
}

func (sl *slot) run(fn func(e *domain.Entry)) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.dead {
		return false
	}
	fn(&sl.entry)
	return true
}

type StoreOption func(*MemoryStore)

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *MemoryStore) { s.now = now }
}

func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *MemoryStore) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:      make(map[domain.Key]*slot),
		cleanupEvery: 10 * time.Minute,
		now:          time.Now,
		logger:       slog.Default(),
		rearm:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) CleanupEvery() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupEvery
}

// SetCleanupEvery troca o intervalo do janitor em execução. Zero ou negativo
// pausa a varredura periódica.
func (s *MemoryStore) SetCleanupEvery(d time.Duration) {
	s.mu.Lock()
	s.cleanupEvery = d
	s.mu.Unlock()

	select {
	case s.rearm <- struct{}{}:
	default:
	}
}

// Upsert implementa domain.ReputationStore.
func (s *MemoryStore) Upsert(key domain.Key, init func() domain.Entry, fn func(e *domain.Entry, created bool)) {
	for {
		s.mu.Lock()
		sl, ok := s.entries[key]
		if !ok {
			sl = &slot{entry: init()}
			s.entries[key] = sl
		}
		s.mu.Unlock()

		created := !ok
		if sl.run(func(e *domain.Entry) { fn(e, created) }) {
			return
		}
		// slot varrido entre o lookup e o lock: tenta de novo com um novo
	}
}

// Update implementa domain.ReputationStore.
func (s *MemoryStore) Update(key domain.Key, fn func(e *domain.Entry)) bool {
	s.mu.Lock()
	sl, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return sl.run(fn)
}

// Snapshot devolve uma cópia da entrada, se existir.
func (s *MemoryStore) Snapshot(key domain.Key) (domain.Entry, bool) {
	s.mu.Lock()
	sl, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return domain.Entry{}, false
	}

	var out domain.Entry
	if !sl.run(func(e *domain.Entry) { out = e.Clone() }) {
		return domain.Entry{}, false
	}
	return out, true
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep remove entradas sem bloqueio ativo e com janela expirada.
// Entradas bloqueadas ficam, mesmo com a janela vencida, para honrar o bloqueio.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, sl := range s.entries {
		sl.mu.Lock()
		if sl.entry.Evictable(now) {
			sl.dead = true
			delete(s.entries, k)
			removed++
		}
		sl.mu.Unlock()
	}
	return removed
}

func (s *MemoryStore) Cleanup() {
	if n := s.Sweep(s.now()); n > 0 {
		s.logger.Debug("reputation sweep", "removed", n, "remaining", s.Len())
	}
}

// StartJanitor inicia uma goroutine que varre entradas inativas periodicamente,
// no intervalo corrente de CleanupEvery. Pare cancelando o contexto.
func (s *MemoryStore) StartJanitor(ctx DoneContext) {
	go func() {
		var (
			t    *time.Ticker
			tick <-chan time.Time
		)
		arm := func() {
			if t != nil {
				t.Stop()
				t, tick = nil, nil
			}
			if d := s.CleanupEvery(); d > 0 {
				t = time.NewTicker(d)
				tick = t.C
			}
		}
		arm()
		defer func() {
			if t != nil {
				t.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.rearm:
				arm()
			case <-tick:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar context aqui.
// (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}
