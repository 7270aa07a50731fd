package domain

import "time"

// JobStatus is the server-reported stage of a document's processing pipeline.
type JobStatus string

const (
	StatusUploading    JobStatus = "uploading"
	StatusUploaded     JobStatus = "uploaded"
	StatusProcessing   JobStatus = "processing"
	StatusOCRComplete  JobStatus = "ocr_complete"
	StatusAIProcessing JobStatus = "ai_processing"
	StatusCompleted    JobStatus = "completed"
	StatusFailed       JobStatus = "failed"
)

// statusRank orders statuses along the pipeline. Terminal statuses share the
// top rank: failed can be reached from any non-terminal stage.
var statusRank = map[JobStatus]int{
	StatusUploading:    0,
	StatusUploaded:     1,
	StatusProcessing:   2,
	StatusOCRComplete:  3,
	StatusAIProcessing: 4,
	StatusCompleted:    5,
	StatusFailed:       5,
}

// Known reports whether s is one of the statuses this client understands.
func (s JobStatus) Known() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further pipeline progress is possible.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next respects pipeline
// order. Terminal statuses accept no transition; equal-rank updates are
// allowed so repeated observations of the same stage are not rejected.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to >= from
}

// ParseStatus validates a server-reported status string.
func ParseStatus(raw string) (JobStatus, bool) {
	s := JobStatus(raw)
	return s, s.Known()
}

// Job is one tracked processing unit: a document's pipeline run.
type Job struct {
	ID               string     `json:"id"`
	Status           JobStatus  `json:"status"`
	Error            string     `json:"error,omitempty"`
	Filename         string     `json:"filename"`
	OriginalFilename string     `json:"originalFilename"`
	SizeBytes        int64      `json:"fileSize"`
	MimeType         string     `json:"mimeType"`
	PageCount        int        `json:"pageCount,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	ProcessedAt      *time.Time `json:"processedAt,omitempty"`
}
