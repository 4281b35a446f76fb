package personalization

import (
	"encoding/json"
	"fmt"
)

// EncodeTrainerInfo serializes trainer info for a text or JSON column
func EncodeTrainerInfo(info map[string]interface{}) (string, error) {
	if info == nil {
		return "{}", nil
	}
	data, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to encode trainer info: %w", err)
	}
	return string(data), nil
}

// DecodeTrainerInfo parses a stored trainer info column. Empty input yields an
// empty map.
func DecodeTrainerInfo(data []byte) (map[string]interface{}, error) {
	info := map[string]interface{}{}
	if len(data) == 0 {
		return info, nil
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to decode trainer info: %w", err)
	}
	if info == nil {
		info = map[string]interface{}{}
	}
	return info, nil
}
