package application

import (
	"abuse-gateway/middleware/abuse/domain"
)

// compiledPolicy é a política validada, com assinaturas e whitelist prontas.
// É imutável depois de criada; trocas de política substituem o ponteiro inteiro.
type compiledPolicy struct {
	domain.Policy
	detector  *SignatureDetector
	whitelist *Whitelist
}

func compilePolicy(p domain.Policy) (*compiledPolicy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	detector, err := NewSignatureDetector(p.Signatures, p.Scoring)
	if err != nil {
		return nil, err
	}
	whitelist, err := NewWhitelist(p.Whitelist)
	if err != nil {
		return nil, err
	}
	return &compiledPolicy{Policy: p, detector: detector, whitelist: whitelist}, nil
}
