package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// maxJobBounces caps how many bounces one job may carry.
	maxJobBounces = 1000
	jobType       = "mailtrack.resend.v1"
)

// ResendJob is the broker payload for an asynchronous bounce resend.
type ResendJob struct {
	JobID              string    `json:"jobId"`
	RequestID          string    `json:"requestId,omitempty"`
	BounceIDs          []int64   `json:"bounceIds"`
	ReactivateInactive bool      `json:"reactivateInactive"`
	RequestedAt        time.Time `json:"requestedAt"`
}

func (j ResendJob) Validate() error {
	if strings.TrimSpace(j.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if len(j.BounceIDs) == 0 {
		return fmt.Errorf("bounceIds must not be empty")
	}
	if len(j.BounceIDs) > maxJobBounces {
		return fmt.Errorf("bounceIds exceeds %d entries", maxJobBounces)
	}
	for _, id := range j.BounceIDs {
		if id <= 0 {
			return fmt.Errorf("invalid bounce id %d", id)
		}
	}
	return nil
}

// DecodeResendJob parses and validates a broker payload.
func DecodeResendJob(body []byte) (ResendJob, error) {
	var job ResendJob
	if err := json.Unmarshal(body, &job); err != nil {
		return ResendJob{}, fmt.Errorf("invalid resend job payload: %w", err)
	}
	if err := job.Validate(); err != nil {
		return job, err
	}
	return job, nil
}
