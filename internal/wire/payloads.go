package wire

// Client request payloads (decoded from Frame.Data).

type SubscribeRequest struct {
	Types []string `json:"types"`
}

type EmitEventRequest struct {
	Type     string         `json:"type"`
	Data     map[string]any `json:"data"`
	Source   string         `json:"source"`
	Priority string         `json:"priority"`
	Tags     []string       `json:"tags"`
}

type GetRecentEventsRequest struct {
	Limit int `json:"limit"`
}

type StartReplayRequest struct {
	Name   string   `json:"name"`
	Start  int64    `json:"start"` // unix millis
	End    int64    `json:"end"`
	Filter []string `json:"filter"`
	Speed  float64  `json:"speed"`
}

type StopReplayRequest struct {
	ReplayID string `json:"replay_id"`
}

type GetReplayStatusRequest struct {
	ReplayID string `json:"replay_id"`
}

// Server response payloads.

type ConnectionEstablished struct {
	SessionID     string   `json:"session_id"`
	Subscriptions []string `json:"subscriptions"`
}

type SubscriptionUpdated struct {
	Subscriptions []string `json:"subscriptions"`
}

type ReplayStarted struct {
	ReplayID string `json:"replay_id"`
}

type ReplayStatus struct {
	ReplayID  string  `json:"replay_id"`
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	Status    string  `json:"status"`
}

type ReplayStopped struct {
	ReplayID string `json:"replay_id"`
}

type RateLimited struct {
	Type string `json:"type"`
}

type DroppedNotice struct {
	Count int `json:"count"`
	Since int64 `json:"since"`
}

type SessionExpired struct {
	Reason string `json:"reason"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ConnectionStats struct {
	TotalSessions     int                      `json:"total_sessions"`
	TotalSent         uint64                   `json:"total_sent"`
	TotalDropped      uint64                   `json:"total_dropped"`
	RateLimitDropped  uint64                   `json:"rate_limit_dropped"`
	ReplayJobsRunning int                      `json:"replay_jobs_running"`
	QueueDepths       map[string]int           `json:"queue_depths"`
	ProcessingTimes   map[string]ProcTimeStats `json:"processing_times"`
	BroadcasterUp     bool                     `json:"broadcaster_up"`
}

type ProcTimeStats struct {
	Count     uint64  `json:"count"`
	AvgMicros float64 `json:"avg_micros"`
}
