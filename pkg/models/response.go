package models

import "time"

// Response is the reply frame for one request.
type Response struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Meta   *Meta  `json:"meta,omitempty"`
}

// Meta carries timing and cache provenance for a response.
type Meta struct {
	FromCache   bool   `json:"from_cache"`
	TookMs      int64  `json:"took_ms"`
	ProxyTookMs *int64 `json:"proxy_took_ms,omitempty"`
}

// Success builds an ok:true response.
func Success(result any, fromCache bool, took time.Duration) Response {
	return Response{
		OK:     true,
		Result: result,
		Meta:   &Meta{FromCache: fromCache, TookMs: took.Milliseconds()},
	}
}

// Failure builds an ok:false response without meta.
func Failure(message string) Response {
	return Response{OK: false, Error: message}
}

// TimedFailure builds an ok:false response that still reports took_ms.
func TimedFailure(message string, took time.Duration) Response {
	return Response{OK: false, Error: message, Meta: &Meta{TookMs: took.Milliseconds()}}
}
