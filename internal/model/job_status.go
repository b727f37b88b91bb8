package model

import (
	"sync"
)

// Submission statuses
const (
	SubmissionQueued     = "queued"
	SubmissionProcessing = "processing"
	SubmissionCompleted  = "completed"
	SubmissionSkipped    = "skipped"
	SubmissionFailed     = "failed"
)

// Submission represents the status of an asynchronously requested job run
type Submission struct {
	SubmissionID  string  `json:"submission_id"`
	JobName       string  `json:"job_name"`
	Status        string  `json:"status"` // "queued", "processing", "completed", "skipped", "failed"
	CorrelationID string  `json:"correlation_id,omitempty"`
	Error         string  `json:"error,omitempty"`
	Result        *JobRun `json:"result,omitempty"`
}

// SubmissionStore is an in-memory store for submission statuses
type SubmissionStore struct {
	mu          sync.RWMutex
	submissions map[string]*Submission
}

// NewSubmissionStore creates a new submission store
func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{
		submissions: make(map[string]*Submission),
	}
}

// Set stores a submission status
func (s *SubmissionStore) Set(id string, status *Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[id] = status
}

// Get retrieves a copy of a submission status
func (s *SubmissionStore) Get(id string) (*Submission, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, exists := s.submissions[id]
	if !exists {
		return nil, false
	}
	copied := *status
	return &copied, true
}

// Update applies fn to a stored submission under the store lock
func (s *SubmissionStore) Update(id string, fn func(*Submission)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, exists := s.submissions[id]
	if exists {
		fn(status)
	}
	return exists
}

// Delete removes a submission status
func (s *SubmissionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.submissions, id)
}
