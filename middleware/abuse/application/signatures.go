package application

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"abuse-gateway/middleware/abuse/domain"
)

// SignatureDetector faz uma varredura sem estado de uma única requisição.
// Só produz pontuação; não toca em nenhuma entrada.
type SignatureDetector struct {
	signatures []*regexp.Regexp
	scoring    domain.Scoring
}

func NewSignatureDetector(patterns []string, scoring domain.Scoring) (*SignatureDetector, error) {
	d := &SignatureDetector{scoring: scoring}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: signature %q: %v", domain.ErrInvalidPolicy, p, err)
		}
		d.signatures = append(d.signatures, re)
	}
	return d, nil
}

// Score soma as checagens independentes: user-agent incomum, assinatura
// maliciosa (URL ou Referer, conta uma vez só) e excesso de parâmetros.
func (d *SignatureDetector) Score(req domain.Request) int {
	score := 0

	ua := strings.TrimSpace(req.UserAgent)
	if ua == "" || len(ua) < d.scoring.MinUserAgentLength {
		score += d.scoring.UnusualUserAgentPenalty
	}

	if d.matches(req.URL) || d.matches(req.Referer) {
		score += d.scoring.SignaturePenalty
	}

	if queryParamCount(req.URL) > d.scoring.MaxQueryParams {
		score += d.scoring.HighEntropyParamsPenalty
	}
	return score
}

func (d *SignatureDetector) matches(s string) bool {
	if s == "" {
		return false
	}
	candidates := []string{s}
	if unescaped, err := url.PathUnescape(s); err == nil && unescaped != s {
		candidates = append(candidates, unescaped)
	}
	for _, re := range d.signatures {
		for _, c := range candidates {
			if re.MatchString(c) {
				return true
			}
		}
	}
	return false
}

// queryParamCount conta os pares chave=valor que conseguiram ser lidos, com
// chaves repetidas contando uma vez por ocorrência. URL malformada conta zero;
// query parcialmente inválida conta só o que foi parseado.
func queryParamCount(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	vals, _ := url.ParseQuery(u.RawQuery)
	n := 0
	for _, v := range vals {
		n += len(v)
	}
	return n
}
