package notification

import (
	"fmt"
	"sync"
)

// NotificationSystem represents a delivery system (e.g., email).
type NotificationSystem string

const (
	EmailSystem NotificationSystem = "email"
)

// NotificationManager manages notifiers and notice templates.
type NotificationManager struct {
	mu                   sync.RWMutex
	notifiers            map[NotificationSystem]Notifier
	notificationRegistry map[NoticeType]map[NotificationSystem]NoticeTemplate
}

// NewNotificationManager creates and returns a new NotificationManager.
func NewNotificationManager() *NotificationManager {
	return &NotificationManager{
		notifiers:            make(map[NotificationSystem]Notifier),
		notificationRegistry: make(map[NoticeType]map[NotificationSystem]NoticeTemplate),
	}
}

// RegisterNotifier registers a notifier for a specific system.
func (nm *NotificationManager) RegisterNotifier(system NotificationSystem, notifier Notifier) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.notifiers[system] = notifier
}

// RegisterNotification adds a template for a notice type on a system.
func (nm *NotificationManager) RegisterNotification(noticeType NoticeType, system NotificationSystem, template NoticeTemplate) error {
	if noticeType == "" || system == "" {
		return fmt.Errorf("invalid input: notice type and system cannot be empty")
	}
	if template.Text == "" && template.Html == "" {
		return fmt.Errorf("template for %s has no body", noticeType)
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()
	if _, exists := nm.notificationRegistry[noticeType]; !exists {
		nm.notificationRegistry[noticeType] = make(map[NotificationSystem]NoticeTemplate)
	}
	nm.notificationRegistry[noticeType][system] = template
	return nil
}

// Send delivers a notice through every system that has both a notifier and a template for it.
func (nm *NotificationManager) Send(noticeType NoticeType, notification NotificationData) error {
	nm.mu.RLock()
	templates, exists := nm.notificationRegistry[noticeType]
	if !exists {
		nm.mu.RUnlock()
		return fmt.Errorf("no templates registered for notice type: %s", noticeType)
	}
	type delivery struct {
		notifier Notifier
		template NoticeTemplate
	}
	var deliveries []delivery
	for system, template := range templates {
		if notifier, ok := nm.notifiers[system]; ok {
			deliveries = append(deliveries, delivery{notifier, template})
		}
	}
	nm.mu.RUnlock()

	if len(deliveries) == 0 {
		return fmt.Errorf("no notifier registered for notice type: %s", noticeType)
	}
	for _, d := range deliveries {
		if err := d.notifier.Send(noticeType, notification, d.template); err != nil {
			return err
		}
	}
	return nil
}
