package resolver

import (
	"encoding/json"
	"fmt"

	"github.com/ivmalkov/fieldsync/internal/models"
)

// ShallowMerge функция слияния по умолчанию для политики merge:
// объединение полей верхнего уровня двух JSON объектов, при пересечении
// ключей побеждает клиентское значение. Подходит для документов, где
// устройства обычно правят разные поля (название против бюджета).
var ShallowMerge models.MergeFunc = func(client, server json.RawMessage) (json.RawMessage, error) {
	var clientDoc, serverDoc map[string]json.RawMessage

	if err := json.Unmarshal(server, &serverDoc); err != nil {
		return nil, fmt.Errorf("server payload is not a JSON object: %w", err)
	}
	if err := json.Unmarshal(client, &clientDoc); err != nil {
		return nil, fmt.Errorf("client payload is not a JSON object: %w", err)
	}

	merged := make(map[string]json.RawMessage, len(serverDoc)+len(clientDoc))
	for k, v := range serverDoc {
		merged[k] = v
	}
	for k, v := range clientDoc {
		merged[k] = v
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged payload: %w", err)
	}

	return out, nil
}
