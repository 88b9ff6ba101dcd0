package models

import "fmt"

// ProcessingStatus describes what the data store is doing. It is purely
// descriptive: any status may follow any other.
type ProcessingStatus string

const (
	ProcessingIdle       ProcessingStatus = "idle"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingComplete   ProcessingStatus = "complete"
	ProcessingError      ProcessingStatus = "error"
)

// ParseProcessingStatus validates a status name.
func ParseProcessingStatus(s string) (ProcessingStatus, error) {
	switch st := ProcessingStatus(s); st {
	case ProcessingIdle, ProcessingProcessing, ProcessingComplete, ProcessingError:
		return st, nil
	}
	return "", fmt.Errorf("unknown processing status: %q", s)
}

// JobStatus represents the status of an async parse job.
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusParsing  JobStatus = "parsing"
	JobStatusComplete JobStatus = "complete"
	JobStatusError    JobStatus = "error"
)
