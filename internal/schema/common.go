package schema

// ErrorResponse represents a standard error payload.
type ErrorResponse struct {
	Detail string `json:"detail" msgpack:"detail"`
}

// HealthResponse represents the health check response payload.
type HealthResponse struct {
	Status  string         `json:"status"`
	Backend *BackendHealth `json:"backend,omitempty"`
	Queue   *QueueHealth   `json:"queue,omitempty"`
}

// BackendHealth reports model reachability for detailed health checks.
type BackendHealth struct {
	Status    string  `json:"status"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// QueueHealth reports inference queue occupancy.
type QueueHealth struct {
	Workers int   `json:"workers"`
	Pending int64 `json:"pending"`
	Active  int64 `json:"active"`
}

// RootResponse is the liveness message served at "/".
type RootResponse struct {
	Message string `json:"message"`
}
