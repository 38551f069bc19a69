// Package app is the demo application on top of the event bus: business
// services that publish events, the consumer groups reacting to them and the
// HTTP API in front of it all.
package app

import "github.com/drblury/eventflow/internal/runtime/envelope"

// Topics of the demo application.
const (
	TopicUserEvents         = "user-events"
	TopicOrderEvents        = "order-events"
	TopicNotificationEvents = "notification-events"
)

// Event types of the demo application.
const (
	UserRegistered     envelope.EventType = "USER_REGISTERED"
	UserProfileUpdated envelope.EventType = "USER_PROFILE_UPDATED"
	OrderCreated       envelope.EventType = "ORDER_CREATED"
	OrderCompleted     envelope.EventType = "ORDER_COMPLETED"
	NotificationSent   envelope.EventType = "NOTIFICATION_SENT"
)

// Consumer groups of the demo application.
const (
	GroupUserHandler           = "user-handler"
	GroupOrderHandler          = "order-handler"
	GroupNotificationAnalytics = "notification-analytics"
)

// Notification kinds.
const (
	NotificationWelcome = "welcome"
	NotificationInfo    = "info"
	NotificationOrder   = "order"
)

// EventTypes is the closed catalogue the bus accepts.
func EventTypes() []envelope.EventType {
	return []envelope.EventType{UserRegistered, UserProfileUpdated, OrderCreated, OrderCompleted, NotificationSent}
}
