package handlers

import "net/http"

// HandleHealth обрабатывает GET /healthz.
// Клиентский network monitor использует его как probe доступности.
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
