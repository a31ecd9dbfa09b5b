package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureNotificationIndexes creates the indexes of the notification
// collections. Template names are unique, which makes seeding idempotent.
func EnsureNotificationIndexes(ctx context.Context, db *mongo.Database) error {
	collections := map[string][]mongo.IndexModel{
		"notification_templates": {
			{
				Keys:    bson.D{{Key: "template_name", Value: 1}},
				Options: options.Index().SetName("idx_templates_name").SetUnique(true),
			},
		},
		"notifications": {
			{
				Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("idx_notifications_status_created"),
			},
			{
				Keys:    bson.D{{Key: "notification_type", Value: 1}, {Key: "status", Value: 1}},
				Options: options.Index().SetName("idx_notifications_type_status"),
			},
			{
				Keys:    bson.D{{Key: "order_number", Value: 1}},
				Options: options.Index().SetName("idx_notifications_order_number"),
			},
			{
				Keys:    bson.D{{Key: "created_at", Value: -1}},
				Options: options.Index().SetName("idx_notifications_created_at"),
			},
		},
	}

	for name, indexes := range collections {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			if !strings.Contains(err.Error(), "already exists") {
				return fmt.Errorf("failed to create indexes on %s: %w", name, err)
			}
		}
	}
	return nil
}
