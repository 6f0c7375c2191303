package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ivmalkov/fieldsync/internal/client/storage"
)

// Identity выдает стабильный идентификатор установки, которым атрибутируются
// локальные операции. Генерируется один раз и переживает перезапуски процесса.
type Identity struct {
	store storage.DeviceStore
	mu    sync.Mutex
	id    string
}

// NewIdentity creates a new device identity backed by a durable store
func NewIdentity(store storage.DeviceStore) *Identity {
	return &Identity{store: store}
}

// GetOrCreate возвращает сохраненный идентификатор устройства, генерируя и
// сохраняя новый UUID при первом вызове. Единственная возможная ошибка -
// ошибка durable-хранилища.
func (i *Identity) GetOrCreate(ctx context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.id != "" {
		return i.id, nil
	}

	id, err := i.store.DeviceID(ctx)
	if err == nil {
		i.id = id
		return id, nil
	}

	if !errors.Is(err, storage.ErrDeviceNotFound) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	// Первый запуск - генерируем и сохраняем
	id = uuid.New().String()
	if err := i.store.SaveDeviceID(ctx, id); err != nil {
		return "", fmt.Errorf("failed to save device id: %w", err)
	}

	i.id = id
	return id, nil
}
