package netmon

import (
	"context"
	"net/http"
	"time"
)

// HTTPProber проверяет доступность sync сервера запросом к health endpoint.
// Это адаптер платформенного сигнала для headless-окружений; на платформах
// с нативным connectivity API его заменяет соответствующий адаптер.
type HTTPProber struct {
	client    *http.Client
	healthURL string
}

// NewHTTPProber creates a prober that checks the server health endpoint
func NewHTTPProber(baseURL string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &HTTPProber{
		healthURL: baseURL + "/healthz",
		client:    &http.Client{Timeout: timeout},
	}
}

// Online возвращает true, если health endpoint ответил 2xx
func (p *HTTPProber) Online(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
