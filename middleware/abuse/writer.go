package abuse

import (
	"bufio"
	"net"
	"net/http"

	"abuse-gateway/middleware/abuse/domain"
)

// statusWriter captura o status do handler no momento em que ele é escrito.
// Se observe devolver um bloqueio, a resposta do handler é trocada pelo 403
// e o corpo que vier depois é descartado.
type statusWriter struct {
	http.ResponseWriter
	observe func(status int) domain.Decision

	wroteHeader bool
	discard     bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	// 1xx pode ser escrito várias vezes antes do status final.
	if code >= 100 && code < 200 {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.wroteHeader = true

	dec := w.observe(code)
	if dec.Outcome == domain.OutcomeBlocked {
		w.discard = true
		h := w.ResponseWriter.Header()
		for k := range h {
			delete(h, k)
		}
		writeDenial(w.ResponseWriter, dec)
		return
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.discard {
		return len(b), nil
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.discard {
		return
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack entrega a conexão (upgrade de protocolo) e encerra a observação:
// depois disso não há status HTTP para medir nem resposta para escrever.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, brw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err == nil {
		w.wroteHeader = true
	}
	return conn, brw, err
}

// Unwrap permite que http.ResponseController alcance o writer original.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// finish cobre o handler que retorna sem escrever nada (200 implícito).
func (w *statusWriter) finish() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
}

const blockedMessage = "Access temporarily blocked due to suspicious activity. Try again later."

func writeDenial(w http.ResponseWriter, d domain.Decision) {
	secs := d.RetryAfterSeconds()
	w.Header().Set("Retry-After", formatInt(secs))

	if d.Outcome == domain.OutcomeRateLimited {
		http.Error(w, "Too many requests. Please try again in "+formatInt(secs)+" seconds.", http.StatusTooManyRequests)
		return
	}
	if d.BlockRef != "" {
		w.Header().Set("X-Block-Ref", d.BlockRef)
	}
	http.Error(w, blockedMessage, http.StatusForbidden)
}
