package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/metatx-labs/metatx-relay-go/pkg/types"
)

// MarshalAuditRecord serializes an AuditRecord to JSON bytes.
func MarshalAuditRecord(record *types.AuditRecord) ([]byte, error) {
	if record == nil {
		return nil, fmt.Errorf("cannot marshal nil AuditRecord")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal AuditRecord to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalAuditRecord deserializes an AuditRecord from JSON bytes.
func UnmarshalAuditRecord(data []byte) (*types.AuditRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var record types.AuditRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to AuditRecord: %w", err)
	}

	return &record, nil
}
