// Package application contém os casos de uso do gate de abuso: extração de
// fingerprint, detecção de assinaturas, rastreio de padrões e o motor de decisão
// com a política de escalonamento.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(req) retorna um Verdict (allow / rate-limited / blocked) e
// Service.Observe(verdict, status) atualiza a reputação depois do handler.
package application
