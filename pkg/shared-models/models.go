package datamodels

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/andrej220/autopilot/pkg/tasks"
)

// RunRequest asks a worker to run a configuration document.
type RunRequest struct {
	ExecutionUID uuid.UUID       `json:"exuid"`
	Document     json.RawMessage `json:"document" validate:"required"`
}

type RunResponse struct {
	ExecutionUID uuid.UUID `json:"exuid"`
}

// RunResult is published once a requested run has finished.
type RunResult struct {
	ExecutionUID uuid.UUID       `json:"exuid"`
	Status       string          `json:"status"`
	Text         string          `json:"text,omitempty"`
	Reports      []*tasks.Report `json:"reports,omitempty"`
	Error        string          `json:"error,omitempty"`
}
