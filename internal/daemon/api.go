package daemon

// HealthResponse is returned from GET /v1/health.
type HealthResponse struct {
	PID         int    `json:"pid"`
	Listen      string `json:"listen"`
	Running     int    `json:"running"`
	Definitions int    `json:"definitions"`
	Connections int    `json:"connections"`
	StartedAt   string `json:"started_at"`
	Uptime      string `json:"uptime"`
}
