package fetch

import (
	"encoding/json"
	"time"

	"coinlens/internal/domain"
)

// Attempt records one failed provider invocation during a fetch walk.
type Attempt struct {
	Provider string `json:"provider"`
	Reason   Reason `json:"reason"`
}

// Meta carries the provenance fields the presentation layer depends on.
type Meta struct {
	Source    string    `json:"source,omitempty"`
	Cached    bool      `json:"cached"`
	FetchedAt time.Time `json:"fetched_at"`
	Attempted []Attempt `json:"attempted,omitempty"`
}

// Envelope is the uniform result shape returned for every category,
// regardless of which provider served it.
type Envelope struct {
	Success  bool            `json:"success"`
	Category domain.Category `json:"category"`
	Data     any             `json:"data,omitempty"`
	Meta     Meta            `json:"meta"`
}

// DecodeData unmarshals the envelope payload into a typed record. The
// payload may be a live struct (memory cache) or raw JSON (redis cache);
// a JSON round trip handles both.
func (e *Envelope) DecodeData(out any) error {
	if raw, ok := e.Data.(json.RawMessage); ok {
		return json.Unmarshal(raw, out)
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
