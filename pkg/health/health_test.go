package health

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

type fakeReporter bool

func (f fakeReporter) Connected() bool { return bool(f) }

func TestCheckerRegistry(t *testing.T) {
	tests := []struct {
		name      string
		publisher bool
		consumer  bool
		optional  bool
		want      Status
	}{
		{"all connected", true, true, false, StatusHealthy},
		{"consumer down", true, false, false, StatusUnhealthy},
		{"optional down", true, false, true, StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			r.Register(NewBrokerChecker("publisher", fakeReporter(tt.publisher)))
			if tt.optional {
				r.RegisterOptional(NewBrokerChecker("consumer", fakeReporter(tt.consumer)))
			} else {
				r.Register(NewBrokerChecker("consumer", fakeReporter(tt.consumer)))
			}

			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, 2)
		})
	}
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewRedisChecker(client)
	assert.NoError(t, checker.Check(context.Background()))

	mr.Close()
	assert.Error(t, checker.Check(context.Background()))
}
