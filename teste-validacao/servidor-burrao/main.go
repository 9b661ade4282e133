// servidor-burrao é um upstream de teste: responde em /showTela e devolve
// 404 para o resto, o que permite exercitar a sequência de falhas do gate à mão.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	http.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>")
		logger.Info("acesso", "path", r.URL.Path, "remote", r.RemoteAddr)
	})
	http.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		logger.Info("login recusado", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		logger.Info("rota inexistente", "path", r.URL.Path)
		http.NotFound(w, r)
	})

	logger.Info("servidor rodando", "url", "http://localhost:8081")
	if err := http.ListenAndServe(":8081", nil); err != nil {
		logger.Error("erro ao subir o servidor", "error", err)
		os.Exit(1)
	}
}
