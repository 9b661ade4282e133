package application

import (
	"fmt"
	"net"
	"strings"

	"abuse-gateway/middleware/abuse/domain"
)

// Whitelist guarda endereços confiáveis (IP isolado ou CIDR).
type Whitelist struct {
	nets []*net.IPNet
}

func NewWhitelist(entries []string) (*Whitelist, error) {
	w := &Whitelist{}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			w.nets = append(w.nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("%w: whitelist entry %q is neither IP nor CIDR", domain.ErrInvalidPolicy, entry)
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		w.nets = append(w.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return w, nil
}

func (w *Whitelist) Contains(addr string) bool {
	if w == nil || len(w.nets) == 0 {
		return false
	}
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return false
	}
	for _, n := range w.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
