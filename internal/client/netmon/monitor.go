package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

//go:generate moq -out prober_mock.go . Prober

// Prober абстрагирует платформенный сигнал связности. Адаптеры различаются
// по платформам, debounce-логика в Monitor общая.
type Prober interface {
	// Online возвращает текущее наблюдение связности
	Online(ctx context.Context) bool
}

// Monitor наблюдает переходы online/offline и подавляет дребезг: переход
// репортится подписчикам только после того, как новое состояние продержалось
// не меньше стабильного окна. IsOnline синхронно возвращает последнее
// зарепорченное состояние и сам по себе сеть не опрашивает.
type Monitor struct {
	prober   Prober
	logger   *slog.Logger
	interval time.Duration
	debounce time.Duration

	// now подменяется в тестах
	now func() time.Time

	mu             sync.Mutex
	reported       bool
	candidate      bool
	candidateSince time.Time
	callbacks      []func(online bool)

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a connectivity monitor.
// interval задает период опроса Prober, debounce - минимальное стабильное окно.
func New(prober Prober, interval, debounce time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if debounce < 0 {
		debounce = 0
	}

	return &Monitor{
		prober:   prober,
		logger:   logger,
		interval: interval,
		debounce: debounce,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// OnTransition регистрирует подписчика переходов связности.
// Подписчик вызывается не чаще одного раза на стабильный переход.
func (m *Monitor) OnTransition(cb func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// IsOnline возвращает последнее стабильное состояние связности
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reported
}

// Start запускает цикл опроса. Первое наблюдение применяется без debounce,
// чтобы начальное состояние стало известно сразу.
func (m *Monitor) Start(ctx context.Context) {
	initial := m.prober.Online(ctx)

	m.mu.Lock()
	m.reported = initial
	m.candidate = initial
	m.candidateSince = m.now()
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("network monitor started", "online", initial)
	}

	go m.loop(ctx)
}

// Stop останавливает цикл опроса и дожидается его завершения
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	<-m.doneCh
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Observe(m.prober.Online(ctx))
		}
	}
}

// Observe обрабатывает одно наблюдение связности. Вынесено отдельно, чтобы
// платформенные адаптеры могли подавать события push-модели (а не только
// периодический опрос) через ту же debounce-логику.
func (m *Monitor) Observe(online bool) {
	var toNotify []func(online bool)

	m.mu.Lock()
	switch {
	case online == m.reported:
		// Наблюдение совпадает с зарепорченным состоянием - сбрасываем кандидата
		m.candidate = online
	case online != m.candidate:
		// Новый кандидат - начинаем отсчет стабильного окна
		m.candidate = online
		m.candidateSince = m.now()
	case m.now().Sub(m.candidateSince) >= m.debounce:
		// Кандидат продержался стабильное окно - репортим переход
		m.reported = online
		toNotify = append(toNotify, m.callbacks...)
	}
	m.mu.Unlock()

	if toNotify == nil {
		return
	}

	if m.logger != nil {
		m.logger.Info("connectivity transition", "online", online)
	}

	for _, cb := range toNotify {
		cb(online)
	}
}
