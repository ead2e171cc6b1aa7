package api

import (
	"time"

	"github.com/mattjoyce/tracetap/internal/subscription"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	WorkDir       string `json:"work_dir"`
	Delivered     int64  `json:"delivered"`
	Dropped       int64  `json:"dropped"`
	Panics        int64  `json:"panics"`
	Subscriptions int    `json:"subscriptions"`
}

// SubscriptionsResponse is returned by GET /subscriptions.
type SubscriptionsResponse struct {
	Enabled []subscription.Key `json:"enabled"`
}

// SetSubscriptionRequest is the JSON body for PUT /subscriptions/{module}[/{category}].
type SetSubscriptionRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetSubscriptionResponse echoes the applied change.
type SetSubscriptionResponse struct {
	Module   string `json:"module"`
	Category string `json:"category,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// MessageEvent is the data of a "message" event on GET /events.
type MessageEvent struct {
	ID        string    `json:"id"`
	Module    string    `json:"module"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	File      string    `json:"file,omitempty"`
	Line      int       `json:"line,omitempty"`
	Text      string    `json:"text"`
}
