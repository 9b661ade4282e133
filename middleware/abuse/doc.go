// Package abuse fornece o adapter HTTP (net/http) do gate adaptativo de abuso.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (fingerprint, assinaturas, padrões, decisão e escalonamento)
//   - infra: implementações concretas (reputação em memória + sweeper, stats, política em YAML)
//   - abuse (este pacote): middleware HTTP + extração do descritor + tradução para status/headers
//
// Fluxo por requisição:
//
//  1. Extrai o descritor (endereço, URL, método, user-agent, referer)
//  2. Chama a camada application para obter o veredito
//  3. Se rate limit, responde 429 com Retry-After; se bloqueado, 403
//  4. Se permitido, chama o próximo handler e observa o status que ele escreve;
//     uma sequência de falhas pode gerar um bloqueio tardio, que substitui a resposta
//
// O gate nunca derruba a requisição: falhas internas são logadas e a requisição segue.
package abuse
