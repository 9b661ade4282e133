package application

import (
	"time"

	"abuse-gateway/middleware/abuse/domain"
)

// TrackPattern registra E pontua: anexa a requisição ao histórico da entrada
// (descartando as mais antigas além de PatternTrackingLimit) e devolve a
// pontuação de rajada e de varredura de endpoints.
//
// O histórico é sempre mutado, mesmo quando a pontuação é zero.
func TrackPattern(e *domain.Entry, rawURL string, now time.Time, p domain.Policy) int {
	e.RecentTimestamps = append(e.RecentTimestamps, now)
	e.RecentURLs = append(e.RecentURLs, rawURL)
	defer trimHistory(e, p.PatternTrackingLimit)

	score := 0

	cutoff := now.Add(-p.BurstWindow)
	recent := 0
	for _, ts := range e.RecentTimestamps {
		if !ts.Before(cutoff) {
			recent++
		}
	}
	if recent > p.MaxBurstRequests {
		score += p.Scoring.BurstPenalty
	}

	unique := make(map[string]struct{}, len(e.RecentURLs))
	for _, u := range e.RecentURLs {
		unique[u] = struct{}{}
	}
	if len(unique) > p.Scoring.ScanUniqueThreshold && len(unique) == len(e.RecentURLs) {
		score += p.Scoring.ScanningPenalty
	}

	return score
}

// recordPattern só registra, sem pontuar.
func recordPattern(e *domain.Entry, rawURL string, now time.Time, limit int) {
	e.RecentTimestamps = append(e.RecentTimestamps, now)
	e.RecentURLs = append(e.RecentURLs, rawURL)
	trimHistory(e, limit)
}

func trimHistory(e *domain.Entry, limit int) {
	if limit <= 0 {
		limit = 1
	}
	if n := len(e.RecentTimestamps) - limit; n > 0 {
		e.RecentTimestamps = append(e.RecentTimestamps[:0], e.RecentTimestamps[n:]...)
	}
	if n := len(e.RecentURLs) - limit; n > 0 {
		e.RecentURLs = append(e.RecentURLs[:0], e.RecentURLs[n:]...)
	}
}
