package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	httpapi "github.com/ivmalkov/fieldsync/internal/client/api"
	"github.com/ivmalkov/fieldsync/internal/client/resolver"
	"github.com/ivmalkov/fieldsync/internal/client/storage"
	"github.com/ivmalkov/fieldsync/internal/models"
)

// Ошибки публичного API движка
var (
	// ErrOffline цикл не запущен: связи нет
	ErrOffline = errors.New("network is offline")

	// ErrNoOpenConflict для сущности нет открытого конфликта
	ErrNoOpenConflict = errors.New("no open conflict for entity")
)

// State фаза текущего цикла синхронизации
type State int32

// Фазы цикла
const (
	StateIdle State = iota
	StatePushing
	StatePulling
)

// String возвращает имя фазы
func (s State) String() string {
	switch s {
	case StatePushing:
		return "pushing"
	case StatePulling:
		return "pulling"
	default:
		return "idle"
	}
}

// Connectivity абстрагирует монитор связности для движка
type Connectivity interface {
	// IsOnline возвращает последнее стабильное состояние связности
	IsOnline() bool

	// OnTransition регистрирует подписчика переходов online/offline
	OnTransition(cb func(online bool))
}

// Config параметры движка синхронизации
type Config struct {
	// Token bearer-токен устройства для удаленного API
	Token string

	// BatchLimit максимальный размер push-пакета за цикл
	BatchLimit int

	// MaxRetries предел transient-повторов операции до dead-letter
	MaxRetries int

	// BackoffBase начальная задержка экспоненциального backoff
	BackoffBase time.Duration

	// BackoffCap верхняя граница задержки backoff
	BackoffCap time.Duration

	// RequestTimeout таймаут одного сетевого вызова;
	// по истечении вызов классифицируется как transient ошибка
	RequestTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
}

// DeadLetter операция, окончательно снятая с повторов и поднятая наверх
type DeadLetter struct {
	At     time.Time                `json:"at"`
	Reason string                   `json:"reason"`
	Op     *models.PendingOperation `json:"op"`
}

// Status снимок состояния движка для UI слоя.
// UI опрашивает его для индикаторов offline/pending и подсказок по конфликтам;
// детали retry и backoff наружу не выносятся.
type Status struct {
	OpenConflicts  []*models.ConflictRecord `json:"open_conflicts"`
	DeadLetters    []DeadLetter             `json:"dead_letters"`
	State          string                   `json:"state"`
	LastSync       int64                    `json:"last_sync"`
	PendingCount   int                      `json:"pending_count"`
	IsOnline       bool                     `json:"is_online"`
	StorageHealthy bool                     `json:"storage_healthy"`
}

// Engine оркестрирует push/pull циклы синхронизации поверх локального
// хранилища, очереди мутаций и удаленного API. Цикл single-flight:
// одновременно выполняется не более одного, повторный триггер во время
// работы схлопывается в "перезапустить после текущего".
type Engine struct {
	cfg       Config
	apiClient httpapi.ClientAPI
	entities  storage.EntityStore
	queue     storage.OperationQueue
	meta      storage.SyncMetadata
	resolver  *resolver.Resolver
	network   Connectivity
	deviceID  string
	logger    *slog.Logger

	// now подменяется в тестах
	now func() time.Time

	state atomic.Int32

	// writeMu сериализует все записи в хранилище и очередь: мутация из UI
	// и pull-merge не могут переплестись в частичную запись
	writeMu sync.Mutex

	// mu защищает координационное состояние цикла
	mu             sync.Mutex
	running        bool
	rerun          bool
	cancelCycle    context.CancelFunc
	conflicts      map[string]*models.ConflictRecord // открытые конфликты по entityID
	deferred       map[string]*models.EntityRecord   // отложенные pull-изменения по collection/entityID
	backoffs       map[string]retry.Backoff          // последовательности backoff по id операции
	nextAttempt    map[string]time.Time              // не раньше какого момента повторять операцию
	deadLetters    []DeadLetter
	storageBroken  bool
	onConflict     func(*models.ConflictRecord)
	onDeadLetter   func(DeadLetter)
	changeHandlers []func()
}

// New создает движок синхронизации. deviceID - стабильный идентификатор
// установки, которым атрибутируются операции.
func New(
	cfg Config,
	apiClient httpapi.ClientAPI,
	entities storage.EntityStore,
	queue storage.OperationQueue,
	meta storage.SyncMetadata,
	res *resolver.Resolver,
	deviceID string,
	logger *slog.Logger,
) *Engine {
	cfg.withDefaults()

	return &Engine{
		cfg:         cfg,
		apiClient:   apiClient,
		entities:    entities,
		queue:       queue,
		meta:        meta,
		resolver:    res,
		deviceID:    deviceID,
		logger:      logger,
		now:         time.Now,
		conflicts:   make(map[string]*models.ConflictRecord),
		deferred:    make(map[string]*models.EntityRecord),
		backoffs:    make(map[string]retry.Backoff),
		nextAttempt: make(map[string]time.Time),
	}
}

// AttachMonitor подключает монитор связности: reconnect запускает цикл,
// disconnect отменяет выполняющийся.
func (e *Engine) AttachMonitor(m Connectivity) {
	e.network = m
	m.OnTransition(e.handleTransition)
}

// OnConflict регистрирует обработчик конфликтов, требующих ручного решения
func (e *Engine) OnConflict(cb func(*models.ConflictRecord)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onConflict = cb
}

// OnDeadLetter регистрирует обработчик dead-letter операций.
// Каждая операция поднимается ровно один раз.
func (e *Engine) OnDeadLetter(cb func(DeadLetter)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDeadLetter = cb
}

// OnChange регистрирует подписчика изменений локального состояния
// (оптимистичные мутации, pull-merge, разрешение конфликтов)
func (e *Engine) OnChange(cb func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changeHandlers = append(e.changeHandlers, cb)
}

// EnqueueMutation применяет мутацию оптимистично к локальному хранилищу и
// ставит операцию в durable-очередь. Сеть не затрагивается; отправку выполнит
// ближайший цикл синхронизации.
func (e *Engine) EnqueueMutation(ctx context.Context, kind models.OperationKind, collection, entityID string, payload json.RawMessage) (*models.PendingOperation, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown operation kind %q", kind)
	}
	if collection == "" || entityID == "" {
		return nil, fmt.Errorf("collection and entity id are required")
	}
	if kind != models.OpDelete && len(payload) == 0 {
		return nil, fmt.Errorf("payload is required for %s", kind)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	// Базовая ревизия - то, что клиент видел в момент мутации
	var baseRevision int64
	existing, err := e.entities.Read(ctx, collection, entityID)
	switch {
	case err == nil:
		baseRevision = existing.Revision
	case errors.Is(err, storage.ErrEntityNotFound):
		existing = nil
	default:
		e.setStorageHealthy(false)
		return nil, fmt.Errorf("failed to read entity: %w", err)
	}

	// Оптимистичная запись: UI видит изменение сразу
	record := &models.EntityRecord{
		UpdatedAt:  e.now(),
		Collection: collection,
		ID:         entityID,
		Revision:   baseRevision,
	}
	switch kind {
	case models.OpDelete:
		if existing == nil {
			return nil, storage.ErrEntityNotFound
		}
		record.Payload = existing.Payload
		record.Deleted = true
	default:
		record.Payload = payload
	}

	if err := e.entities.WriteOne(ctx, record); err != nil {
		e.setStorageHealthy(false)
		return nil, fmt.Errorf("failed to write entity: %w", err)
	}

	op := &models.PendingOperation{
		CreatedAt:    e.now(),
		ID:           uuid.New().String(),
		Kind:         kind,
		Collection:   collection,
		EntityID:     entityID,
		DeviceID:     e.deviceID,
		Payload:      payload,
		BaseRevision: baseRevision,
	}

	if err := e.queue.Enqueue(ctx, op); err != nil {
		e.setStorageHealthy(false)
		return nil, fmt.Errorf("failed to enqueue operation: %w", err)
	}

	e.setStorageHealthy(true)
	e.logger.Debug("mutation enqueued",
		"op_id", op.ID,
		"kind", kind,
		"collection", collection,
		"entity_id", entityID)

	e.notifyChange()
	return op, nil
}

// TriggerSync асинхронно запускает цикл синхронизации.
// Триггер во время выполняющегося цикла схлопывается в rerun.
func (e *Engine) TriggerSync() {
	go func() {
		if _, err := e.RunCycle(context.Background()); err != nil && !errors.Is(err, ErrOffline) {
			e.logger.Warn("sync cycle failed", "error", err)
		}
	}()
}

// Status возвращает снимок состояния движка
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	lastSync, err := e.meta.LastSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read last sync: %w", err)
	}

	pending, err := e.queue.PendingCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending operations: %w", err)
	}

	online := true
	if e.network != nil {
		online = e.network.IsOnline()
	}

	e.mu.Lock()
	conflicts := make([]*models.ConflictRecord, 0, len(e.conflicts))
	for _, c := range e.conflicts {
		conflicts = append(conflicts, c)
	}
	deadLetters := make([]DeadLetter, len(e.deadLetters))
	copy(deadLetters, e.deadLetters)
	healthy := !e.storageBroken
	e.mu.Unlock()

	return &Status{
		OpenConflicts:  conflicts,
		DeadLetters:    deadLetters,
		State:          State(e.state.Load()).String(),
		LastSync:       lastSync,
		PendingCount:   pending,
		IsOnline:       online,
		StorageHealthy: healthy,
	}, nil
}

// ResolveConflict применяет решение к открытому конфликту сущности:
// сообщает его серверу, записывает итоговую версию в локальное хранилище и
// снимает заблокированную операцию с очереди. payload используется как
// готовый результат слияния при resolution = merge.
func (e *Engine) ResolveConflict(ctx context.Context, entityID string, resolution models.Resolution, payload json.RawMessage) error {
	e.mu.Lock()
	conflict, ok := e.conflicts[entityID]
	e.mu.Unlock()

	if !ok {
		return ErrNoOpenConflict
	}

	if err := e.applyResolution(ctx, conflict, resolution, nil, payload); err != nil {
		return err
	}

	// Разблокированная сущность могла накопить отложенные серверные изменения
	e.TriggerSync()
	return nil
}

// OpenConflict возвращает открытый конфликт сущности, если он есть
func (e *Engine) OpenConflict(entityID string) (*models.ConflictRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conflicts[entityID]
	return c, ok
}

// handleTransition реагирует на стабильный переход связности
func (e *Engine) handleTransition(online bool) {
	if online {
		e.logger.Info("network restored, scheduling sync")
		e.TriggerSync()
		return
	}

	// Разрыв связи: отменяем выполняющийся сетевой вызов. Уже разрешенные
	// операции остаются разрешенными, watermark не продвинут.
	e.mu.Lock()
	cancel := e.cancelCycle
	e.mu.Unlock()

	if cancel != nil {
		e.logger.Info("network lost, cancelling in-flight sync cycle")
		cancel()
	}
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

func (e *Engine) setStorageHealthy(healthy bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.storageBroken == healthy {
		// состояние меняется
		if !healthy {
			e.logger.Error("local storage is unhealthy, sync suspended until writes succeed")
		}
	}
	e.storageBroken = !healthy
}

func (e *Engine) notifyChange() {
	e.mu.Lock()
	handlers := make([]func(), len(e.changeHandlers))
	copy(handlers, e.changeHandlers)
	e.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}
