package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"logistics/internal/constants"
	"logistics/pkg/metrics"
)

const (
	templatesCollection     = "notification_templates"
	notificationsCollection = "notifications"
)

type MongoStore struct {
	templates     *mongo.Collection
	notifications *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		templates:     db.Collection(templatesCollection),
		notifications: db.Collection(notificationsCollection),
	}
}

func observe(operation string, start time.Time, err *error) {
	status := "success"
	if *err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery(constants.ServiceNotification, constants.StoreTypeMongoDB, operation, status)
	metrics.ObserveDatabaseQueryDuration(constants.ServiceNotification, constants.StoreTypeMongoDB, operation, time.Since(start))
}

func (s *MongoStore) GetTemplate(ctx context.Context, name string) (t *Template, err error) {
	defer observe("get_template", time.Now(), &err)

	var tmpl Template
	err = s.templates.FindOne(ctx, bson.M{"template_name": name}).Decode(&tmpl)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, templateNotFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &tmpl, nil
}

func (s *MongoStore) ListTemplates(ctx context.Context) (out []Template, err error) {
	defer observe("list_templates", time.Now(), &err)

	opts := options.Find().SetSort(bson.D{{Key: "template_name", Value: 1}})
	cursor, err := s.templates.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer cursor.Close(ctx)

	out = []Template{}
	if err = cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode templates: %w", err)
	}
	return out, nil
}

func (s *MongoStore) CreateTemplate(ctx context.Context, t *Template) (err error) {
	defer observe("create_template", time.Now(), &err)

	_, err = s.templates.InsertOne(ctx, t)
	if mongo.IsDuplicateKeyError(err) {
		return templateExists(t.Name).WithCause(err)
	}
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (s *MongoStore) Insert(ctx context.Context, n *Notification) (err error) {
	defer observe("insert_notification", time.Now(), &err)

	_, err = s.notifications.InsertOne(ctx, n)
	if mongo.IsDuplicateKeyError(err) {
		return notificationExists(n.ID).WithCause(err)
	}
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (s *MongoStore) SetStatus(ctx context.Context, id string, status Status, sentAt *time.Time) (err error) {
	defer observe("set_notification_status", time.Now(), &err)

	set := bson.M{"status": status}
	if sentAt != nil {
		set["sent_at"] = *sentAt
	}
	result, err := s.notifications.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	if result.MatchedCount == 0 {
		return notificationNotFound(id)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (n *Notification, err error) {
	defer observe("get_notification", time.Now(), &err)

	var doc Notification
	err = s.notifications.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notificationNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &doc, nil
}

func (s *MongoStore) List(ctx context.Context, filter ListFilter) (out []Notification, total int, err error) {
	defer observe("list_notifications", time.Now(), &err)

	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}

	count, err := s.notifications.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(filter.Offset)).
		SetLimit(int64(limit))

	cursor, err := s.notifications.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	out = []Notification{}
	if err = cursor.All(ctx, &out); err != nil {
		return nil, 0, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return out, int(count), nil
}
