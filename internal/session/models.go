package session

import (
	"encoding/json"
	"time"
)

// Operation is what produced an iteration.
type Operation string

const (
	OpTransform Operation = "transform"
	OpFallback  Operation = "fallback"
	OpEdit      Operation = "edit"
)

// Session is the stored history of one transformation and the magic edits
// made on its results.
type Session struct {
	ID                 string
	EraID              string
	Language           string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CurrentIterationID string
	Model              string
}

type Iteration struct {
	ID        string
	SessionID string
	ParentID  string
	Operation Operation
	// Style is the variant style, or the instruction for an edit.
	Style     string
	ImagePath string
	RawPath   string
	Model     string
	Timestamp time.Time
	Metadata  IterationMetadata
}

type IterationMetadata struct {
	Format   string `json:"format,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`
	Variant  int    `json:"variant"`
	Provider string `json:"provider,omitempty"`
}

func (m *IterationMetadata) ToJSON() string {
	data, _ := json.Marshal(m)
	return string(data)
}

func ParseIterationMetadata(data string) IterationMetadata {
	var m IterationMetadata
	if data != "" {
		json.Unmarshal([]byte(data), &m)
	}
	return m
}
