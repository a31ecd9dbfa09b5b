//go:build integration

package tracking

import (
	"context"
	"testing"

	"logistics/internal/testinfra"
)

func TestPostgresRepository_Contract(t *testing.T) {
	db := testinfra.Postgres(t)

	testRepositoryContract(t, func(t *testing.T) Repository {
		_, err := db.ExecContext(context.Background(), `TRUNCATE shipments, tracking_events RESTART IDENTITY CASCADE`)
		if err != nil {
			t.Fatalf("failed to truncate: %v", err)
		}
		return NewPostgresRepository(db)
	})
}
