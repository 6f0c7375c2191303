package models

// SyncSnapshot корневое durable-состояние локального хранилища: все коллекции
// плюс watermark последней полной синхронизации. LastSync монотонно не убывает
// и продвигается только после полностью успешной pull-фазы.
type SyncSnapshot struct {
	Collections map[string]map[string]*EntityRecord `json:"collections"`
	LastSync    int64                               `json:"last_sync"`
}

// NewSyncSnapshot создает пустой снимок состояния
func NewSyncSnapshot() *SyncSnapshot {
	return &SyncSnapshot{
		Collections: make(map[string]map[string]*EntityRecord),
	}
}

// Clone создает глубокую копию снимка
func (s *SyncSnapshot) Clone() *SyncSnapshot {
	clone := &SyncSnapshot{
		Collections: make(map[string]map[string]*EntityRecord, len(s.Collections)),
		LastSync:    s.LastSync,
	}

	for name, records := range s.Collections {
		clone.Collections[name] = make(map[string]*EntityRecord, len(records))
		for id, record := range records {
			clone.Collections[name][id] = record.Clone()
		}
	}

	return clone
}
