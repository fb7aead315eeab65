package dto

// MetricsResponse summarizes the run pipeline for the metrics page.
type MetricsResponse struct {
	New          int    `json:"new" doc:"Runs waiting to be claimed"`
	Pending      int    `json:"pending" doc:"Runs being verified"`
	Processing   int    `json:"processing" doc:"Runs being harvested"`
	Complete     int    `json:"complete" doc:"Stored documents"`
	Alltime      int64  `json:"alltime" doc:"Completed runs since the beginning of time"`
	ErrorLimited bool   `json:"error_limited" doc:"Whether a worker is sleeping out an ESI error-limit window"`
	Timestamp    string `json:"timestamp" doc:"Server time, RFC 3339"`
}

// MetricsOutput represents the metrics endpoint output
type MetricsOutput struct {
	Body MetricsResponse `json:"body"`
}

// StatusResponse reports module health.
type StatusResponse struct {
	Module  string `json:"module"`
	Status  string `json:"status" enum:"healthy,degraded"`
	Message string `json:"message,omitempty"`
}

// StatusOutput represents the status endpoint output
type StatusOutput struct {
	Body StatusResponse `json:"body"`
}
