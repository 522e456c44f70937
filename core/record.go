package core

import (
	"encoding/json"
	"fmt"
)

// DecodeRecord turns an inbound payload into a Record. Socket.IO hands event
// arguments over already decoded, HTTP hands over raw bytes; both paths end
// up here. Anything that is not a JSON object is rejected.
func DecodeRecord(payload any) (Record, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		raw = b
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: payload must be an object", ErrInvalidPayload)
	}
	return record, nil
}

// DecodeRecords accepts either one JSON object or an array of objects.
func DecodeRecords(raw []byte) ([]Record, error) {
	var batch []json.RawMessage
	if err := json.Unmarshal(raw, &batch); err == nil {
		records := make([]Record, 0, len(batch))
		for i, item := range batch {
			record, err := DecodeRecord([]byte(item))
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			records = append(records, record)
		}
		return records, nil
	}

	record, err := DecodeRecord(raw)
	if err != nil {
		return nil, err
	}
	return []Record{record}, nil
}
