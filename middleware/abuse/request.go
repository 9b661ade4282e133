package abuse

import (
	"net"
	"net/http"
	"strings"

	"abuse-gateway/middleware/abuse/domain"
)

type AddrFunc func(r *http.Request) string

// ProxyHeaders é a ordem de preferência usada atrás de proxy reverso.
var ProxyHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

// DefaultAddrFunc resolve o endereço do cliente pelo primeiro header da lista
// que estiver presente; para listas (X-Forwarded-For) vale o primeiro item,
// que é o cliente original. Sem headers, cai para RemoteAddr.
func DefaultAddrFunc(headers []string) AddrFunc {
	return func(r *http.Request) string {
		for _, h := range headers {
			v := r.Header.Get(h)
			if v == "" {
				continue
			}
			if first := strings.TrimSpace(strings.Split(v, ",")[0]); first != "" {
				return first
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Describe monta o descritor consumido pelo gate.
func Describe(r *http.Request, addr AddrFunc) domain.Request {
	uri := ""
	if r.URL != nil {
		uri = r.URL.RequestURI()
	}
	return domain.Request{
		Addr:      addr(r),
		URL:       uri,
		Method:    r.Method,
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
	}
}
