package resolver

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ivmalkov/fieldsync/internal/models"
)

// Policy задает автоматическую стратегию разрешения конфликтов коллекции.
// Нулевая Policy означает ручное разрешение: конфликт поднимается наверх
// и ждет решения вызывающего.
type Policy struct {
	// Resolution способ разрешения, применяемый без участия пользователя
	Resolution models.Resolution

	// Merge функция слияния; обязательна при Resolution = merge
	Merge models.MergeFunc
}

// Resolver сравнивает клиентскую и серверную версии сущности и готовит
// разрешение конфликта. Стратегии выбираются per collection.
type Resolver struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	policies map[string]Policy
}

// New creates a conflict resolver without automatic policies
func New(logger *slog.Logger) *Resolver {
	return &Resolver{
		logger:   logger,
		policies: make(map[string]Policy),
	}
}

// SetPolicy задает автоматическую стратегию для коллекции
func (r *Resolver) SetPolicy(collection string, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[collection] = p
}

// PolicyFor возвращает стратегию коллекции и признак ее наличия
func (r *Resolver) PolicyFor(collection string) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[collection]
	return p, ok
}

// Detect определяет, есть ли конфликт между локальной версией с неотправленным
// изменением и серверной версией. Конфликт существует, когда обе стороны
// изменились после последней общей точки синхронизации: серверная ревизия
// ушла вперед baseRevision, а у клиента есть pending изменение. Если изменилась
// только одна сторона, возвращается nil.
func (r *Resolver) Detect(local, server *models.EntityRecord, baseRevision int64) *models.ConflictRecord {
	if local == nil || server == nil {
		return nil
	}

	// Сервер не двигался с общей точки - конфликта нет
	if server.Revision <= baseRevision {
		return nil
	}

	if r.logger != nil {
		r.logger.Debug("conflict detected",
			"collection", local.Collection,
			"entity_id", local.ID,
			"base_revision", baseRevision,
			"server_revision", server.Revision)
	}

	return &models.ConflictRecord{
		ClientVersion: local.Clone(),
		ServerVersion: server.Clone(),
		Collection:    local.Collection,
		EntityID:      local.ID,
	}
}

// Resolve применяет способ разрешения к конфликту и возвращает итоговую
// запись. Для merge используется mergeFn, а при его отсутствии - функция
// слияния из политики коллекции. Сам конфликт помечается разрешенным.
func (r *Resolver) Resolve(conflict *models.ConflictRecord, resolution models.Resolution, mergeFn models.MergeFunc) (*models.EntityRecord, error) {
	if !resolution.Valid() {
		return nil, fmt.Errorf("unknown resolution %q", resolution)
	}

	var resolved *models.EntityRecord

	switch resolution {
	case models.ResolutionUseServer:
		resolved = conflict.ServerVersion.Clone()

	case models.ResolutionUseClient:
		// Локальный payload поверх серверной ревизии: last-writer-wins
		// по явному выбору, а не по гонке часов
		resolved = conflict.ClientVersion.Clone()
		resolved.Revision = conflict.ServerVersion.Revision

	case models.ResolutionMerge:
		if mergeFn == nil {
			policy, ok := r.PolicyFor(conflict.Collection)
			if !ok || policy.Merge == nil {
				return nil, fmt.Errorf("no merge function for collection %q", conflict.Collection)
			}
			mergeFn = policy.Merge
		}

		payload, err := mergeFn(conflict.ClientVersion.Payload, conflict.ServerVersion.Payload)
		if err != nil {
			return nil, fmt.Errorf("merge failed: %w", err)
		}

		resolved = conflict.ServerVersion.Clone()
		resolved.Payload = payload
		resolved.Deleted = false
	}

	conflict.Resolution = resolution
	conflict.ResolvedPayload = resolved.Payload

	return resolved, nil
}
