package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy é retornado (embrulhado) por validações de política.
var ErrInvalidPolicy = errors.New("invalid abuse policy")

// DefaultSignatures são as assinaturas de ataque conhecidas, aplicadas à URL e
// ao Referer. A primeira que casar pontua; as demais são ignoradas.
var DefaultSignatures = []string{
	// sondagem de login/admin
	`(?i)/(wp-login\.php|wp-admin|xmlrpc\.php|administrator|phpmyadmin|admin\.php)`,
	// arquivos de ambiente/repositório
	`(?i)/\.(env|git|aws|htpasswd|htaccess|ds_store)`,
	// injeção de código
	`(?i)(eval\(|base64_decode\(|system\(|exec\(|\$\{jndi:|<\?php)`,
	// path traversal
	`(?i)(\.\./|\.\.\\|%2e%2e(%2f|/|%5c))`,
	// SQL injection
	`(?i)(union(\s|\+|%20)+(all(\s|\+|%20)+)?select|'(\s|\+|%20)*or(\s|\+|%20)+'?1'?='?1|information_schema|sleep\(\d+\)|;(\s|\+|%20)*drop(\s|\+|%20)+table)`,
	// injeção de script
	`(?i)(<script|%3cscript|javascript:|onerror=)`,
}

// Scoring agrupa penalidades e limiares de pontuação.
type Scoring struct {
	InitialScore              int `yaml:"initial_score"`
	RateLimitHitPenalty       int `yaml:"rate_limit_hit_penalty"`
	ConsecutiveFailurePenalty int `yaml:"consecutive_failure_penalty"`

	UnusualUserAgentPenalty  int `yaml:"unusual_user_agent_penalty"`
	MinUserAgentLength       int `yaml:"min_user_agent_length"`
	SignaturePenalty         int `yaml:"signature_penalty"`
	MaxQueryParams           int `yaml:"max_query_params"`
	HighEntropyParamsPenalty int `yaml:"high_entropy_params_penalty"`

	BurstPenalty        int `yaml:"burst_penalty"`
	ScanUniqueThreshold int `yaml:"scan_unique_threshold"`
	ScanningPenalty     int `yaml:"scanning_penalty"`

	// Limiares do limite efetivo (limite/2 e limite/4, sem composição).
	HalveLimitScore   int `yaml:"halve_limit_score"`
	QuarterLimitScore int `yaml:"quarter_limit_score"`

	// Faixas de duração do bloqueio.
	MediumBlockScore int `yaml:"medium_block_score"`
	LongBlockScore   int `yaml:"long_block_score"`

	UserAgentKeyLength int `yaml:"user_agent_key_length"`
}

// Policy é toda a superfície de configuração do gate.
type Policy struct {
	StandardWindow       time.Duration `yaml:"standard_window"`
	MaxRequestsPerMinute int           `yaml:"max_requests_per_minute"`

	BurstWindow      time.Duration `yaml:"burst_window"`
	MaxBurstRequests int           `yaml:"max_burst_requests"`

	ShortBlock  time.Duration `yaml:"short_block"`
	MediumBlock time.Duration `yaml:"medium_block"`
	LongBlock   time.Duration `yaml:"long_block"`

	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
	SuspiciousThreshold    int `yaml:"suspicious_threshold"`
	PatternTrackingLimit   int `yaml:"pattern_tracking_limit"`

	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// Whitelist aceita IPs isolados ou CIDRs.
	Whitelist  []string `yaml:"whitelist"`
	Signatures []string `yaml:"signatures"`

	Scoring Scoring `yaml:"scoring"`
}

func DefaultPolicy() Policy {
	return Policy{
		StandardWindow:         time.Minute,
		MaxRequestsPerMinute:   50,
		BurstWindow:            10 * time.Second,
		MaxBurstRequests:       20,
		ShortBlock:             2 * time.Minute,
		MediumBlock:            10 * time.Minute,
		LongBlock:              time.Hour,
		MaxConsecutiveFailures: 5,
		SuspiciousThreshold:    100,
		PatternTrackingLimit:   20,
		CleanupInterval:        10 * time.Minute,
		Signatures:             append([]string(nil), DefaultSignatures...),
		Scoring: Scoring{
			InitialScore:              0,
			RateLimitHitPenalty:       40,
			ConsecutiveFailurePenalty: 20,
			UnusualUserAgentPenalty:   10,
			MinUserAgentLength:        10,
			SignaturePenalty:          50,
			MaxQueryParams:            10,
			HighEntropyParamsPenalty:  15,
			BurstPenalty:              30,
			ScanUniqueThreshold:       10,
			ScanningPenalty:           25,
			HalveLimitScore:           50,
			QuarterLimitScore:         80,
			MediumBlockScore:          100,
			LongBlockScore:            200,
			UserAgentKeyLength:        100,
		},
	}
}

// Validate checa apenas invariantes numéricos. Assinaturas e whitelist são
// validadas na compilação da política (camada application).
func (p Policy) Validate() error {
	positiveDurations := []struct {
		name string
		v    time.Duration
	}{
		{"standard_window", p.StandardWindow},
		{"burst_window", p.BurstWindow},
		{"short_block", p.ShortBlock},
		{"medium_block", p.MediumBlock},
		{"long_block", p.LongBlock},
	}
	for _, d := range positiveDurations {
		if d.v <= 0 {
			return fmt.Errorf("%w: %s must be > 0", ErrInvalidPolicy, d.name)
		}
	}
	if p.CleanupInterval < 0 {
		return fmt.Errorf("%w: cleanup_interval must be >= 0", ErrInvalidPolicy)
	}

	positiveInts := []struct {
		name string
		v    int
	}{
		{"max_requests_per_minute", p.MaxRequestsPerMinute},
		{"max_burst_requests", p.MaxBurstRequests},
		{"max_consecutive_failures", p.MaxConsecutiveFailures},
		{"suspicious_threshold", p.SuspiciousThreshold},
		{"pattern_tracking_limit", p.PatternTrackingLimit},
	}
	for _, n := range positiveInts {
		if n.v <= 0 {
			return fmt.Errorf("%w: %s must be > 0", ErrInvalidPolicy, n.name)
		}
	}

	s := p.Scoring
	if s.InitialScore < 0 || s.RateLimitHitPenalty < 0 || s.ConsecutiveFailurePenalty < 0 ||
		s.UnusualUserAgentPenalty < 0 || s.SignaturePenalty < 0 || s.HighEntropyParamsPenalty < 0 ||
		s.BurstPenalty < 0 || s.ScanningPenalty < 0 {
		return fmt.Errorf("%w: penalties must be >= 0", ErrInvalidPolicy)
	}
	if s.MinUserAgentLength < 0 || s.MaxQueryParams < 0 || s.ScanUniqueThreshold < 0 {
		return fmt.Errorf("%w: scoring thresholds must be >= 0", ErrInvalidPolicy)
	}
	if s.HalveLimitScore > s.QuarterLimitScore {
		return fmt.Errorf("%w: halve_limit_score must be <= quarter_limit_score", ErrInvalidPolicy)
	}
	if s.MediumBlockScore > s.LongBlockScore {
		return fmt.Errorf("%w: medium_block_score must be <= long_block_score", ErrInvalidPolicy)
	}
	if !(p.ShortBlock < p.MediumBlock && p.MediumBlock < p.LongBlock) {
		return fmt.Errorf("%w: block durations must grow short < medium < long", ErrInvalidPolicy)
	}
	if s.UserAgentKeyLength <= 0 {
		return fmt.Errorf("%w: user_agent_key_length must be > 0", ErrInvalidPolicy)
	}
	return nil
}
