package app

import (
	"context"
	"errors"
	"time"

	"github.com/drblury/eventflow/internal/runtime"
	"github.com/drblury/eventflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
)

var (
	ErrUserIDRequired  = errors.New("eventflow: userId is required")
	ErrOrderIDRequired = errors.New("eventflow: orderId is required")
)

// User is the payload of USER_REGISTERED.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RegisterUserInput is what a caller knows about a new user.
type RegisterUserInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ProfileUpdate is the payload of USER_PROFILE_UPDATED.
type ProfileUpdate struct {
	UserID    string         `json:"userId"`
	Updates   map[string]any `json:"updates"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Order is the payload of ORDER_CREATED and ORDER_COMPLETED.
type Order struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId,omitempty"`
	Items       []OrderItem `json:"items,omitempty"`
	Total       float64     `json:"total,omitempty"`
	Status      string      `json:"status"`
	CreatedAt   *time.Time  `json:"createdAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// CreateOrderInput is what a caller sends to open an order.
type CreateOrderInput struct {
	UserID string      `json:"userId"`
	Items  []OrderItem `json:"items"`
	Total  float64     `json:"total"`
}

// Notification is the payload of NOTIFICATION_SENT.
type Notification struct {
	ID      string    `json:"id"`
	UserID  string    `json:"userId"`
	Message string    `json:"message"`
	Type    string    `json:"type"`
	SentAt  time.Time `json:"sentAt"`
}

type clock struct {
	now   func() time.Time
	newID func() string
}

func defaultClock() clock {
	return clock{now: func() time.Time { return time.Now().UTC() }, newID: ids.CreateULID}
}

// UserService emits user lifecycle events.
type UserService struct {
	producer runtime.Producer
	clock
}

func NewUserService(producer runtime.Producer) *UserService {
	return &UserService{producer: producer, clock: defaultClock()}
}

// Register creates a user and publishes USER_REGISTERED keyed by the new id.
func (s *UserService) Register(ctx context.Context, in RegisterUserInput) (User, error) {
	user := User{
		ID:        s.newID(),
		Name:      in.Name,
		Email:     in.Email,
		CreatedAt: s.now(),
	}
	if _, err := s.producer.Publish(ctx, TopicUserEvents, UserRegistered, user, runtime.WithCorrelationKey(user.ID)); err != nil {
		return User{}, err
	}
	return user, nil
}

// UpdateProfile publishes USER_PROFILE_UPDATED for userID.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, updates map[string]any) (ProfileUpdate, error) {
	if userID == "" {
		return ProfileUpdate{}, ErrUserIDRequired
	}
	update := ProfileUpdate{UserID: userID, Updates: updates, UpdatedAt: s.now()}
	if _, err := s.producer.Publish(ctx, TopicUserEvents, UserProfileUpdated, update, runtime.WithCorrelationKey(userID)); err != nil {
		return ProfileUpdate{}, err
	}
	return update, nil
}

// OrderService emits order lifecycle events. Events are keyed by user so one
// customer's orders stay in sequence; orders without a user fall back to the
// order id.
type OrderService struct {
	producer runtime.Producer
	clock
}

func NewOrderService(producer runtime.Producer) *OrderService {
	return &OrderService{producer: producer, clock: defaultClock()}
}

// Create opens a pending order and publishes ORDER_CREATED.
func (s *OrderService) Create(ctx context.Context, in CreateOrderInput) (Order, error) {
	created := s.now()
	order := Order{
		ID:        s.newID(),
		UserID:    in.UserID,
		Items:     in.Items,
		Total:     in.Total,
		Status:    "pending",
		CreatedAt: &created,
	}
	if _, err := s.producer.Publish(ctx, TopicOrderEvents, OrderCreated, order, runtime.WithCorrelationKey(orderKey(order))); err != nil {
		return Order{}, err
	}
	return order, nil
}

// Complete publishes ORDER_COMPLETED for orderID.
func (s *OrderService) Complete(ctx context.Context, orderID, userID string) (Order, error) {
	if orderID == "" {
		return Order{}, ErrOrderIDRequired
	}
	completed := s.now()
	order := Order{ID: orderID, UserID: userID, Status: "completed", CompletedAt: &completed}
	if _, err := s.producer.Publish(ctx, TopicOrderEvents, OrderCompleted, order, runtime.WithCorrelationKey(orderKey(order))); err != nil {
		return Order{}, err
	}
	return order, nil
}

// orderKey keeps every event of one order on the same partition.
func orderKey(o Order) string {
	return o.ID
}

// NotificationService delivers notifications and records each one as
// NOTIFICATION_SENT.
type NotificationService struct {
	producer runtime.Producer
	log      loggingpkg.ServiceLogger
	clock
}

func NewNotificationService(producer runtime.Producer, log loggingpkg.ServiceLogger) *NotificationService {
	return &NotificationService{producer: producer, log: log, clock: defaultClock()}
}

// Send delivers message to userID and publishes NOTIFICATION_SENT.
func (s *NotificationService) Send(ctx context.Context, userID, message, kind string) (Notification, error) {
	if kind == "" {
		kind = NotificationInfo
	}
	n := Notification{
		ID:      s.newID(),
		UserID:  userID,
		Message: message,
		Type:    kind,
		SentAt:  s.now(),
	}
	s.log.Info("Sending notification", loggingpkg.LogFields{"user_id": userID, "type": kind, "message": message})

	if _, err := s.producer.Publish(ctx, TopicNotificationEvents, NotificationSent, n, runtime.WithCorrelationKey(userID)); err != nil {
		return Notification{}, err
	}
	return n, nil
}
