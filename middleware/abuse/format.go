// utilitário pequeno para formatação rápida/consistente de valores numéricos em headers
// e mensagens, sem puxar fmt para formatação simples.

package abuse

import "strconv"

func formatInt(v int) string { return strconv.Itoa(v) }
