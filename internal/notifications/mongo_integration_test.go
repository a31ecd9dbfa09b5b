//go:build integration

package notifications

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"logistics/internal/testinfra"
)

func TestMongoStore_Contract(t *testing.T) {
	db := testinfra.Mongo(t)

	testStoreContract(t, func(t *testing.T) Store {
		ctx := context.Background()
		for _, name := range []string{"notification_templates", "notifications"} {
			if _, err := db.Collection(name).DeleteMany(ctx, bson.M{}); err != nil {
				t.Fatalf("failed to clear %s: %v", name, err)
			}
		}
		return NewMongoStore(db)
	})
}
