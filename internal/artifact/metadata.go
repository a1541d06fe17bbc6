package artifact

import (
	"encoding/json"
	"time"
)

// Metadata describes the currently stored archive, or its absence.
type Metadata struct {
	HasFile      bool      `json:"hasFile"`
	OriginalName string    `json:"originalName"`
	Size         uint64    `json:"size"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// MarshalJSON collapses the empty record to {"hasFile":false}.
func (m Metadata) MarshalJSON() ([]byte, error) {
	if !m.HasFile {
		return []byte(`{"hasFile":false}`), nil
	}
	type record Metadata
	return json.Marshal(record(m))
}
