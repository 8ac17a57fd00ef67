package worker

// IngestTaskPayload is the body of an ingest.task.file message: one
// uploaded file to carry through partition -> embed -> index.
type IngestTaskPayload struct {
	Workspace     string `json:"workspace"`
	Filename      string `json:"filename"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
