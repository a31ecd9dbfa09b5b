package envelope

import "time"

type Builder struct {
	env Envelope
}

func NewBuilder(routingKey string) *Builder {
	return &Builder{env: Envelope{RoutingKey: routingKey, Payload: make(map[string]interface{})}}
}

func (b *Builder) WithPayload(payload map[string]interface{}) *Builder {
	b.env.Payload = payload
	return b
}

func (b *Builder) WithField(key string, value interface{}) *Builder {
	if b.env.Payload == nil {
		b.env.Payload = make(map[string]interface{})
	}
	b.env.Payload[key] = value
	return b
}

func (b *Builder) WithMessageID(id string) *Builder {
	b.env.MessageID = id
	return b
}

func (b *Builder) WithTimestamp(ts time.Time) *Builder {
	b.env.PublishedAt = ts
	return b
}

func (b *Builder) WithAttempt(attempt int) *Builder {
	b.env.Attempt = attempt
	return b
}

func (b *Builder) Build() Envelope {
	if b.env.PublishedAt.IsZero() {
		b.env.PublishedAt = time.Now().UTC()
	}
	return b.env
}
