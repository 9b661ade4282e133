package application

import (
	"strconv"
	"strings"
	"testing"

	"abuse-gateway/middleware/abuse/domain"

	"github.com/stretchr/testify/require"
)

func newDetector(t *testing.T) (*SignatureDetector, domain.Scoring) {
	t.Helper()
	p := domain.DefaultPolicy()
	d, err := NewSignatureDetector(p.Signatures, p.Scoring)
	require.NoError(t, err)
	return d, p.Scoring
}

func TestSignatureDetector_CleanRequestScoresZero(t *testing.T) {
	d, _ := newDetector(t)
	require.Zero(t, d.Score(cleanReq("/products/42?color=red&size=m")))
}

func TestSignatureDetector_UnusualUserAgent(t *testing.T) {
	d, s := newDetector(t)

	req := cleanReq("/")
	req.UserAgent = ""
	require.Equal(t, s.UnusualUserAgentPenalty, d.Score(req))

	req.UserAgent = "curl/8"
	require.Equal(t, s.UnusualUserAgentPenalty, d.Score(req))
}

func TestSignatureDetector_KnownAttackPaths(t *testing.T) {
	d, s := newDetector(t)

	urls := []string{
		"/wp-login.php",
		"/.env",
		"/static/../../etc/passwd",
		"/files/%2e%2e%2fsecret",
		"/search?q=1%27%20OR%20%271%27=%271",
		"/search?q=x+UNION+SELECT+password+FROM+users",
		"/comment?body=%3Cscript%3Ealert(1)%3C/script%3E",
		"/api?cmd=${jndi:ldap://x}",
	}
	for _, u := range urls {
		require.Equal(t, s.SignaturePenalty, d.Score(cleanReq(u)), "url %q", u)
	}
}

func TestSignatureDetector_FirstMatchWinsAcrossURLAndReferer(t *testing.T) {
	d, s := newDetector(t)

	req := cleanReq("/.git/config?q=<script>")
	req.Referer = "https://evil.example/wp-admin"
	require.Equal(t, s.SignaturePenalty, d.Score(req))

	onlyRef := cleanReq("/")
	onlyRef.Referer = "https://shop.example/?q=<script>"
	require.Equal(t, s.SignaturePenalty, d.Score(onlyRef))
}

func TestSignatureDetector_HighEntropyParams(t *testing.T) {
	d, s := newDetector(t)

	var parts []string
	for i := 0; i <= s.MaxQueryParams; i++ {
		parts = append(parts, "p"+strconv.Itoa(i)+"=v")
	}
	require.Equal(t, s.HighEntropyParamsPenalty, d.Score(cleanReq("/list?"+strings.Join(parts, "&"))))

	require.Zero(t, d.Score(cleanReq("/list?"+strings.Join(parts[:s.MaxQueryParams], "&"))))
}

func TestSignatureDetector_RepeatedKeysCountEachOccurrence(t *testing.T) {
	d, s := newDetector(t)

	var parts []string
	for i := 0; i <= s.MaxQueryParams; i++ {
		parts = append(parts, "a="+strconv.Itoa(i))
	}
	require.Equal(t, s.HighEntropyParamsPenalty, d.Score(cleanReq("/search?"+strings.Join(parts, "&"))))
	require.Equal(t, s.MaxQueryParams+1, queryParamCount("/search?"+strings.Join(parts, "&")))

	require.Zero(t, d.Score(cleanReq("/search?"+strings.Join(parts[:s.MaxQueryParams], "&"))))
}

func TestSignatureDetector_MalformedURLDoesNotPanic(t *testing.T) {
	d, _ := newDetector(t)

	require.NotPanics(t, func() {
		require.Zero(t, d.Score(cleanReq("%zz/\x7f?%%%")))
	})
}

func TestSignatureDetector_ChecksAreAdditive(t *testing.T) {
	d, s := newDetector(t)

	var parts []string
	for i := 0; i <= s.MaxQueryParams; i++ {
		parts = append(parts, "k"+strconv.Itoa(i)+"=1")
	}
	req := domain.Request{Addr: "198.51.100.1", URL: "/.env?" + strings.Join(parts, "&")}
	want := s.UnusualUserAgentPenalty + s.SignaturePenalty + s.HighEntropyParamsPenalty
	require.Equal(t, want, d.Score(req))
}

func TestNewSignatureDetector_InvalidPattern(t *testing.T) {
	_, err := NewSignatureDetector([]string{"[a-"}, domain.DefaultPolicy().Scoring)
	require.ErrorIs(t, err, domain.ErrInvalidPolicy)
}
