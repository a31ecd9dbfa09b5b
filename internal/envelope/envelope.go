// Package envelope is the wire codec for events: a flat JSON object holding
// the payload fields plus reserved metadata keys prefixed with "_".
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	apperrors "logistics/pkg/errors"
)

const ContentType = "application/json"

const (
	KeyTimestamp        = "_timestamp"
	KeyRoutingKey       = "_routing_key"
	KeyMessageID        = "_message_id"
	KeyAttempt          = "_attempt"
	KeyDeadLetterReason = "_dead_letter_reason"
)

var reservedKeys = []string{KeyTimestamp, KeyRoutingKey, KeyMessageID, KeyAttempt, KeyDeadLetterReason}

// legacyTimestamp is the zone-less ISO form some producers emit.
const legacyTimestamp = "2006-01-02T15:04:05.999999"

type Envelope struct {
	RoutingKey       string
	Payload          map[string]interface{}
	PublishedAt      time.Time
	MessageID        string
	Attempt          int
	DeadLetterReason string
}

// IsReserved reports whether key is envelope metadata rather than payload.
func IsReserved(key string) bool {
	for _, k := range reservedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Encode flattens the envelope into a single JSON object. A zero PublishedAt
// is stamped with the current time.
func Encode(env Envelope) ([]byte, error) {
	obj := make(map[string]interface{}, len(env.Payload)+5)
	for k, v := range env.Payload {
		if IsReserved(k) {
			continue
		}
		obj[k] = v
	}

	publishedAt := env.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now()
	}
	obj[KeyTimestamp] = publishedAt.UTC().Format(time.RFC3339Nano)
	obj[KeyRoutingKey] = env.RoutingKey

	if env.MessageID != "" {
		obj[KeyMessageID] = env.MessageID
	}
	if env.Attempt > 0 {
		obj[KeyAttempt] = env.Attempt
	}
	if env.DeadLetterReason != "" {
		obj[KeyDeadLetterReason] = env.DeadLetterReason
	}

	body, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", env.RoutingKey, err)
	}
	return body, nil
}

// Decode parses a message body. transportKey is used when the body carries no
// _routing_key. Numbers are kept as json.Number.
func Decode(body []byte, transportKey string) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return Envelope{}, apperrors.ErrDecode.WithCause(err)
	}
	if obj == nil {
		return Envelope{}, apperrors.ErrDecode.WithMessage("message body is not a JSON object")
	}
	if dec.More() {
		return Envelope{}, apperrors.ErrDecode.WithMessage("trailing data after JSON object")
	}

	env := Envelope{RoutingKey: transportKey}

	if rk, ok := obj[KeyRoutingKey].(string); ok && rk != "" {
		env.RoutingKey = rk
	}
	if ts, ok := obj[KeyTimestamp].(string); ok {
		env.PublishedAt = parseTimestamp(ts)
	}
	if id, ok := obj[KeyMessageID].(string); ok {
		env.MessageID = id
	}
	if n, ok := obj[KeyAttempt].(json.Number); ok {
		if a, err := strconv.Atoi(n.String()); err == nil && a > 0 {
			env.Attempt = a
		}
	}
	if reason, ok := obj[KeyDeadLetterReason].(string); ok {
		env.DeadLetterReason = reason
	}

	for _, k := range reservedKeys {
		delete(obj, k)
	}
	env.Payload = obj

	return env, nil
}

func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	if t, err := time.ParseInLocation(legacyTimestamp, s, time.UTC); err == nil {
		return t
	}
	return time.Time{}
}

// Bind copies the payload into a typed struct through its json tags.
func (e Envelope) Bind(v interface{}) error {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return apperrors.ErrDecode.WithCause(err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.ErrDecode.WithMessage("payload of %s does not fit %T", e.RoutingKey, v).WithCause(err)
	}
	return nil
}

// String returns the payload field as a string, empty when absent.
func (e Envelope) String(key string) string {
	switch v := e.Payload[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
