package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Mode selects the compute backend for a request.
type Mode string

const (
	ModeCalc Mode = "calc"
	ModeGpt  Mode = "gpt"
)

// ErrBadRequest matches every request validation failure.
var ErrBadRequest = errors.New("bad request")

// BadRequestError describes why a decoded message is not a valid request.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string { return "Bad request: " + e.Reason }

// Is reports whether target is ErrBadRequest.
func (e *BadRequestError) Is(target error) bool { return target == ErrBadRequest }

func badRequest(reason string) error { return &BadRequestError{Reason: reason} }

// Message is one decoded frame: a JSON object whose numbers are kept as
// json.Number so they survive a round trip unchanged.
type Message map[string]any

// Payload is the mode-specific part of a Request. It is implemented only by
// CalcPayload and GptPayload.
type Payload interface {
	Mode() Mode
	payload()
}

// CalcPayload carries an arithmetic expression for the evaluator.
type CalcPayload struct {
	Expr string
}

// Mode implements Payload.
func (CalcPayload) Mode() Mode { return ModeCalc }
func (CalcPayload) payload()   {}

// GptPayload carries a prompt for the text generator.
type GptPayload struct {
	Prompt string
}

// Mode implements Payload.
func (GptPayload) Mode() Mode { return ModeGpt }
func (GptPayload) payload()   {}

// Options are the per-request switches.
type Options struct {
	Cache bool
}

// Request is a validated, immutable request.
type Request struct {
	Payload Payload
	Options Options
}

// Mode returns the request mode.
func (r Request) Mode() Mode { return r.Payload.Mode() }

// ParseRequest validates a decoded message and converts it into a Request.
func ParseRequest(msg Message) (Request, error) {
	data, err := object(msg, "data")
	if err != nil {
		return Request{}, err
	}
	opts, err := parseOptions(msg)
	if err != nil {
		return Request{}, err
	}

	mode, _ := msg["mode"].(string)
	switch Mode(mode) {
	case ModeCalc:
		expr, ok := data["expr"].(string)
		if !ok || expr == "" {
			return Request{}, badRequest("'expr' is required (string)")
		}
		return Request{Payload: CalcPayload{Expr: expr}, Options: opts}, nil
	case ModeGpt:
		prompt, ok := data["prompt"].(string)
		if !ok || prompt == "" {
			return Request{}, badRequest("'prompt' is required (string)")
		}
		return Request{Payload: GptPayload{Prompt: prompt}, Options: opts}, nil
	default:
		return Request{}, badRequest("unknown mode")
	}
}

// CacheRequested reports whether a message opts into caching. It never fails:
// a missing "cache" option counts as a request to cache, otherwise the value
// is judged by truthiness, so null, false, 0, "" and empty containers opt out.
func CacheRequested(msg Message) bool {
	opts, ok := msg["options"].(map[string]any)
	if !ok {
		return true
	}
	v, present := opts["cache"]
	if !present {
		return true
	}
	return truthy(v)
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case json.Number:
		f, err := v.Float64()
		return err != nil || f != 0
	case float64:
		return v != 0
	case string:
		return v != ""
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		return true
	}
}

// CacheKey returns the canonical serialization of a message. Object keys are
// sorted at every level, so key order on the wire does not matter, while every
// field (options included) takes part in the key.
func CacheKey(msg Message) (string, error) {
	b, err := json.Marshal(map[string]any(msg))
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	return string(b), nil
}

func parseOptions(msg Message) (Options, error) {
	opts := Options{Cache: true}
	raw, err := object(msg, "options")
	if err != nil {
		return opts, err
	}
	v, present := raw["cache"]
	if !present {
		return opts, nil
	}
	if v == nil {
		opts.Cache = false
		return opts, nil
	}
	b, ok := v.(bool)
	if !ok {
		return opts, badRequest("'options.cache' must be a boolean")
	}
	opts.Cache = b
	return opts, nil
}

// object returns msg[field] as an object. A missing or null field is an empty object.
func object(msg Message, field string) (map[string]any, error) {
	v, present := msg[field]
	if !present || v == nil {
		return map[string]any{}, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, badRequest(fmt.Sprintf("'%s' must be an object", field))
	}
	return obj, nil
}

// ModeLabel returns the mode of an unvalidated message as a bounded label:
// "calc", "gpt" or "unknown".
func ModeLabel(msg Message) string {
	switch m, _ := msg["mode"].(string); Mode(m) {
	case ModeCalc, ModeGpt:
		return m
	default:
		return "unknown"
	}
}
