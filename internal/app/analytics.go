package app

import (
	"sync"

	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
)

// AnalyticsSnapshot is a point-in-time copy of the notification counters.
type AnalyticsSnapshot struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"byType"`
	ByUser map[string]int `json:"byUser"`
}

// Analytics counts sent notifications per type and per user.
type Analytics struct {
	log loggingpkg.ServiceLogger

	mu     sync.Mutex
	total  int
	byType map[string]int
	byUser map[string]int
}

func NewAnalytics(log loggingpkg.ServiceLogger) *Analytics {
	return &Analytics{
		log:    log,
		byType: make(map[string]int),
		byUser: make(map[string]int),
	}
}

// Record counts one notification.
func (a *Analytics) Record(n Notification) {
	a.mu.Lock()
	a.total++
	a.byType[n.Type]++
	a.byUser[n.UserID]++
	a.mu.Unlock()

	a.log.Info("Analytics: notification sent", loggingpkg.LogFields{"type": n.Type, "user_id": n.UserID})
}

func (a *Analytics) Snapshot() AnalyticsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap := AnalyticsSnapshot{
		Total:  a.total,
		ByType: make(map[string]int, len(a.byType)),
		ByUser: make(map[string]int, len(a.byUser)),
	}
	for k, v := range a.byType {
		snap.ByType[k] = v
	}
	for k, v := range a.byUser {
		snap.ByUser[k] = v
	}
	return snap
}
