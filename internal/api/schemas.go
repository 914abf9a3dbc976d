package api

import (
	"time"

	"github.com/afschowdhury/excavator-video-analyzer/internal/store"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State       string       `json:"state"`
	LastError   string       `json:"last_error,omitempty"`
	RunsRunning int          `json:"runs_running"`
	ActiveRun   *RunResponse `json:"active_run,omitempty"`
}

type AnalyzeRequest struct {
	Source string `json:"source"`
}

type AnalyzeResponse struct {
	RunID string `json:"run_id"`
}

type RunResponse struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	SourceID   string `json:"source_id"`
	Status     string `json:"status"`
	Stage      string `json:"stage,omitempty"`
	Progress   int    `json:"progress"`
	Error      string `json:"error,omitempty"`
	ReportPath string `json:"report_path,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RunToResponse(r *store.Run) RunResponse {
	return RunResponse{
		ID:         r.ID,
		Source:     r.Source,
		SourceID:   r.SourceID,
		Status:     r.Status,
		Stage:      r.Stage,
		Progress:   r.Progress,
		Error:      r.Error,
		ReportPath: r.ReportPath,
		CreatedAt:  r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  r.UpdatedAt.Format(time.RFC3339),
	}
}
