package notifications

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

const ChannelEmail = "email"

type Template struct {
	ID              string    `json:"id" bson:"_id"`
	Name            string    `json:"template_name" bson:"template_name"`
	SubjectTemplate string    `json:"subject_template" bson:"subject_template"`
	BodyTemplate    string    `json:"body_template" bson:"body_template"`
	Channel         string    `json:"channel" bson:"channel"`
	Condition       string    `json:"condition,omitempty" bson:"condition,omitempty"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" bson:"updated_at"`
}

type Notification struct {
	ID             string     `json:"id" bson:"_id"`
	Type           string     `json:"notification_type" bson:"notification_type"`
	Recipient      string     `json:"recipient" bson:"recipient"`
	Subject        string     `json:"subject" bson:"subject"`
	Message        string     `json:"message" bson:"message"`
	Channel        string     `json:"channel" bson:"channel"`
	Status         Status     `json:"status" bson:"status"`
	OrderNumber    string     `json:"order_number,omitempty" bson:"order_number,omitempty"`
	TrackingNumber string     `json:"tracking_number,omitempty" bson:"tracking_number,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty" bson:"sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at" bson:"created_at"`
}

type SendRequest struct {
	Type           string `json:"notification_type" binding:"required,max=100"`
	Recipient      string `json:"recipient" binding:"required,max=255"`
	Subject        string `json:"subject" binding:"required,max=500"`
	Message        string `json:"message" binding:"required"`
	Channel        string `json:"channel" binding:"omitempty,oneof=email sms"`
	OrderNumber    string `json:"order_number"`
	TrackingNumber string `json:"tracking_number"`
}

type CreateTemplateRequest struct {
	Name            string `json:"template_name" binding:"required,max=100"`
	SubjectTemplate string `json:"subject_template" binding:"required,max=500"`
	BodyTemplate    string `json:"body_template" binding:"required"`
	Channel         string `json:"channel" binding:"omitempty,oneof=email sms"`
	// Condition is an optional CEL expression over routing_key and event.
	Condition string `json:"condition" binding:"omitempty,max=1000"`
}

type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

type ListResponse struct {
	Notifications []Notification `json:"notifications"`
	Total         int            `json:"total"`
	Page          int            `json:"page"`
	PageSize      int            `json:"page_size"`
}
