package job

import (
	"encoding/json"
	"time"
)

// Job is a failed ingestion task kept for explicit retry. Payload is
// the original queue message, re-published verbatim on retry.
type Job struct {
	ID        string          `json:"id"`
	Workspace string          `json:"workspace"`
	Filename  string          `json:"filename"`
	Handler   string          `json:"handler"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}
