package domain

// ReputationStore mapeia Key -> Entry.
//
// As funções recebidas rodam com acesso exclusivo à entrada da chave: toda a
// sequência ler-modificar-escrever de uma requisição é atômica em relação a
// outras requisições da mesma chave. Chaves diferentes não se coordenam.
type ReputationStore interface {
	// Upsert executa fn sobre a entrada da chave, criando-a com init() se ausente.
	Upsert(key Key, init func() Entry, fn func(e *Entry, created bool))
	// Update executa fn apenas se a entrada existir. Retorna false caso contrário.
	Update(key Key, fn func(e *Entry)) bool
}
