package item

import "time"

// Stats is the accountability payload reported to the tracker on completion.
type Stats struct {
	Downloader string           `json:"downloader"`
	Version    string           `json:"version"`
	Items      []string         `json:"items"`
	Bytes      map[string]int64 `json:"bytes"`
	ID         StatsID          `json:"id"`
	// Delivery carries fields returned by the uploader once delivery is confirmed.
	Delivery map[string]string `json:"delivery,omitempty"`
}

// StatsID carries the hashes that let the tracker spot stale workers.
type StatsID struct {
	PipelineHash string `json:"pipeline_hash"`
	LuaHash      string `json:"lua_hash"`
	GoVersion    string `json:"go_version"`
}

// Outcome is the record kept for every item the worker releases or fails.
type Outcome struct {
	ID            string    `json:"id"`
	Identifier    string    `json:"identifier"`
	State         State     `json:"state"`
	FailedStage   string    `json:"failed_stage,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Domains       []string  `json:"domains"`
	ContainerBase string    `json:"container_base,omitempty"`
	Bytes         int64     `json:"bytes"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}
