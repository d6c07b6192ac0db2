package sqs

import (
	"encoding/json"
	"fmt"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

func encodeMessage(m domain.TaskMessage) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeMessage parses a queue message body. Missing job_id, job_type or
// request_body marks the message malformed so the consumer can drop it
// instead of letting a poison pill cycle through redelivery.
func DecodeMessage(body []byte) (domain.TaskMessage, error) {
	var m domain.TaskMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.TaskMessage{}, fmt.Errorf("op=queue.decode: %w: %v", domain.ErrInvalidArgument, err)
	}
	if m.JobID == "" || m.JobType == "" || len(m.RequestBody) == 0 {
		return domain.TaskMessage{}, fmt.Errorf("op=queue.decode incomplete message: %w", domain.ErrInvalidArgument)
	}
	return m, nil
}
