package application

import (
	"time"

	"abuse-gateway/middleware/abuse/domain"
)

// effectiveLimit aperta o limite conforme a suspeita. As faixas partem sempre do
// limite original (score >= QuarterLimitScore => /4, >= HalveLimitScore => /2).
func effectiveLimit(p domain.Policy, score int) int {
	limit := p.MaxRequestsPerMinute
	switch {
	case score >= p.Scoring.QuarterLimitScore:
		limit = p.MaxRequestsPerMinute / 4
	case score >= p.Scoring.HalveLimitScore:
		limit = p.MaxRequestsPerMinute / 2
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// blockDuration escolhe a duração do bloqueio por faixa de score.
func blockDuration(p domain.Policy, score int) time.Duration {
	switch {
	case score >= p.Scoring.LongBlockScore:
		return p.LongBlock
	case score >= p.Scoring.MediumBlockScore:
		return p.MediumBlock
	default:
		return p.ShortBlock
	}
}
