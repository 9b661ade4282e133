// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryStore: reputação por chave em memória, com lock por chave e sweeper
//   - MemoryStatsStore / RedisStatsStore: contadores de vereditos
//   - LoadPolicyFile / WatchPolicyFile: política em YAML com recarga via fsnotify
package infra
