package app

import (
	"context"
	"fmt"

	"github.com/drblury/eventflow/internal/runtime"
)

// Subscriber is the part of the bus the handlers register with.
type Subscriber interface {
	Subscribe(groupID string, topics []string, handler runtime.Handler) error
}

// Handlers reacts to user, order and notification events.
type Handlers struct {
	notifications *NotificationService
	analytics     *Analytics
}

func NewHandlers(notifications *NotificationService, analytics *Analytics) *Handlers {
	return &Handlers{notifications: notifications, analytics: analytics}
}

// Register subscribes the three consumer groups of the application.
func (h *Handlers) Register(bus Subscriber) error {
	users := runtime.NewRouter().
		On(UserRegistered, h.onUserRegistered).
		On(UserProfileUpdated, h.onUserProfileUpdated)
	orders := runtime.NewRouter().
		On(OrderCreated, h.onOrderCreated).
		On(OrderCompleted, h.onOrderCompleted)
	notifications := runtime.NewRouter().
		On(NotificationSent, h.onNotificationSent)

	if err := bus.Subscribe(GroupUserHandler, []string{TopicUserEvents}, users.Handler()); err != nil {
		return err
	}
	if err := bus.Subscribe(GroupOrderHandler, []string{TopicOrderEvents}, orders.Handler()); err != nil {
		return err
	}
	return bus.Subscribe(GroupNotificationAnalytics, []string{TopicNotificationEvents}, notifications.Handler())
}

func (h *Handlers) onUserRegistered(ctx context.Context, d runtime.Delivery) error {
	var user User
	if err := d.Decode(&user); err != nil {
		return fmt.Errorf("decode user: %w", err)
	}
	message := fmt.Sprintf("Welcome %s! Your account has been created successfully.", user.Name)
	_, err := h.notifications.Send(ctx, userOf(d, user.ID), message, NotificationWelcome)
	return err
}

func (h *Handlers) onUserProfileUpdated(ctx context.Context, d runtime.Delivery) error {
	var update ProfileUpdate
	if err := d.Decode(&update); err != nil {
		return fmt.Errorf("decode profile update: %w", err)
	}
	_, err := h.notifications.Send(ctx, userOf(d, update.UserID), "Your profile has been updated successfully.", NotificationInfo)
	return err
}

func (h *Handlers) onOrderCreated(ctx context.Context, d runtime.Delivery) error {
	var order Order
	if err := d.Decode(&order); err != nil {
		return fmt.Errorf("decode order: %w", err)
	}
	message := fmt.Sprintf("Order #%s has been created and is being processed.", order.ID)
	_, err := h.notifications.Send(ctx, order.UserID, message, NotificationOrder)
	return err
}

func (h *Handlers) onOrderCompleted(ctx context.Context, d runtime.Delivery) error {
	var order Order
	if err := d.Decode(&order); err != nil {
		return fmt.Errorf("decode order: %w", err)
	}
	message := fmt.Sprintf("Order #%s has been completed successfully!", order.ID)
	_, err := h.notifications.Send(ctx, order.UserID, message, NotificationOrder)
	return err
}

func (h *Handlers) onNotificationSent(ctx context.Context, d runtime.Delivery) error {
	var n Notification
	if err := d.Decode(&n); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	n.UserID = userOf(d, n.UserID)
	h.analytics.Record(n)
	return nil
}

// userOf prefers the user id carried in the payload and falls back to the
// correlation key.
func userOf(d runtime.Delivery, fromPayload string) string {
	if fromPayload != "" {
		return fromPayload
	}
	if d.Envelope.CorrelationKey != nil {
		return *d.Envelope.CorrelationKey
	}
	return ""
}
