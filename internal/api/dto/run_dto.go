package dto

type ListRunsRequest struct {
	Status   string `form:"status"`
	JobID    string `form:"job_id"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListRunsResponse struct {
	Runs       []RunDTO `json:"runs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type StageDTO struct {
	Stage      string  `json:"stage"`
	DurationMS int64   `json:"duration_ms"`
	Percent    float64 `json:"percent"`
}

type RunDTO struct {
	RunID          string     `json:"run_id"`
	JobID          string     `json:"job_id"`
	VoiceRef       string     `json:"voice"`
	OutfileHint    string     `json:"outfile,omitempty"`
	Status         string     `json:"status"`
	FailedStage    string     `json:"failed_stage,omitempty"`
	ErrorClass     string     `json:"error_class,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	ArtifactPath   string     `json:"artifact_path,omitempty"`
	PublishedPath  string     `json:"published_path,omitempty"`
	UploadAttempts int        `json:"upload_attempts"`
	Deleted        bool       `json:"deleted"`
	StartedAt      string     `json:"started_at"`
	FinishedAt     string     `json:"finished_at"`
	DurationMS     int64      `json:"duration_ms"`
	Stages         []StageDTO `json:"stages,omitempty"`
}

type SummaryResponse struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
}

type StatusResponse struct {
	State      string `json:"state"`
	Mode       string `json:"mode"`
	CurrentJob string `json:"current_job,omitempty"`
	StartedAt  string `json:"started_at"`
	Uptime     string `json:"uptime"`
	Rounds     int    `json:"rounds"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	Abandoned  int    `json:"abandoned"`
	LastRunID  string `json:"last_run_id,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}
