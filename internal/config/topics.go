package config

const (
	// TopicIngestFile is the NSQ topic for file ingestion tasks.
	TopicIngestFile = "ingest.task.file"
)
