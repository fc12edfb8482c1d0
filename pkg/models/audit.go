package models

import "time"

// Exchange is one audited request/response pair.
type Exchange struct {
	ID        string    `json:"id"`
	ConnID    string    `json:"conn_id"`
	Role      string    `json:"role"`
	Mode      string    `json:"mode"`
	OK        bool      `json:"ok"`
	FromCache bool      `json:"from_cache"`
	Error     string    `json:"error,omitempty"`
	Request   string    `json:"request,omitempty"`
	Response  string    `json:"response,omitempty"`
	TookMs    int64     `json:"took_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// ExchangeQuery specifies filters for querying audited exchanges.
type ExchangeQuery struct {
	Role       string
	Mode       string
	ConnID     string
	Since      time.Time
	FailedOnly bool
	Limit      int
}

// ExchangeStat holds aggregate counts for a role/mode/day combination.
type ExchangeStat struct {
	Role     string
	Mode     string
	Day      string
	Count    int
	Hits     int
	Failures int
	AvgMs    float64
}
