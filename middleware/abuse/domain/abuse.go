package domain

// Camada de domínio do gate de abuso.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "time"

// Key identifica um cliente (endereço de rede + prefixo do user-agent).
// Não é globalmente única: NATs compartilhados e headers forjados colidem.
type Key string

// Request é o descritor de requisição consumido pelo gate.
//
// Method faz parte do descritor mas não entra na pontuação.
type Request struct {
	Addr      string
	URL       string // path + query, como recebido
	Method    string
	UserAgent string
	Referer   string
}

// Entry é a reputação mutável de uma Key.
type Entry struct {
	RequestCount        int
	WindowResetAt       time.Time
	ConsecutiveFailures int
	SuspicionScore      int

	// BlockedUntil zero significa sem bloqueio. Só é "limpo" pela passagem do tempo.
	BlockedUntil time.Time
	BlockRef     string

	// Históricos paralelos, mais antigo primeiro.
	RecentTimestamps []time.Time
	RecentURLs       []string
}

// Blocked informa se há bloqueio ativo em now.
func (e *Entry) Blocked(now time.Time) bool {
	return !e.BlockedUntil.IsZero() && e.BlockedUntil.After(now)
}

// WindowExpired informa se a janela de contagem já passou.
func (e *Entry) WindowExpired(now time.Time) bool {
	return e.WindowResetAt.Before(now)
}

// Evictable indica que a entrada pode ser descartada pelo sweeper:
// sem bloqueio ativo e com a janela expirada.
func (e *Entry) Evictable(now time.Time) bool {
	return !e.Blocked(now) && e.WindowExpired(now)
}

// Clone devolve uma cópia sem compartilhar os históricos.
func (e *Entry) Clone() Entry {
	out := *e
	out.RecentTimestamps = append([]time.Time(nil), e.RecentTimestamps...)
	out.RecentURLs = append([]string(nil), e.RecentURLs...)
	return out
}

type Outcome int

const (
	OutcomeAllow Outcome = iota
	OutcomeRateLimited
	OutcomeBlocked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allowed"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Decision é o veredito do gate.
//
// RetryAfter só tem sentido fora de OutcomeAllow: em RateLimited é o tempo até
// o fim da janela, em Blocked é o tempo restante de bloqueio.
// NewBlock e BlockRef só são preenchidos em OutcomeBlocked.
type Decision struct {
	Outcome    Outcome
	RetryAfter time.Duration
	NewBlock   bool
	BlockRef   string
}

func Allow() Decision { return Decision{Outcome: OutcomeAllow} }

func RateLimited(retryAfter time.Duration) Decision {
	return Decision{Outcome: OutcomeRateLimited, RetryAfter: retryAfter}
}

func Blocked(remaining time.Duration, ref string, newBlock bool) Decision {
	return Decision{Outcome: OutcomeBlocked, RetryAfter: remaining, BlockRef: ref, NewBlock: newBlock}
}

func (d Decision) Allowed() bool { return d.Outcome == OutcomeAllow }

// RetryAfterSeconds arredonda RetryAfter para cima, em segundos inteiros.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}

// NewEntry cria a entrada de um cliente recém-visto. A requisição que a cria
// já conta como a primeira da janela.
func NewEntry(now time.Time, window time.Duration, initialScore int) Entry {
	return Entry{
		RequestCount:   1,
		WindowResetAt:  now.Add(window),
		SuspicionScore: initialScore,
	}
}

// RolloverIfExpired reinicia a janela se ela já passou. Score e falhas
// consecutivas atravessam a virada intactos.
func (e *Entry) RolloverIfExpired(now time.Time, window time.Duration) bool {
	if !e.WindowExpired(now) {
		return false
	}
	e.RequestCount = 1
	e.WindowResetAt = now.Add(window)
	return true
}
