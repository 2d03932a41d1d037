package notice

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-device/pkg/config"
	"github.com/tendant/simple-device/pkg/notification"
)

// DeviceLimitExceededNotice is sent to the administrator when a user is blocked
const DeviceLimitExceededNotice notification.NoticeType = "device_limit_exceeded"

//go:embed templates/*
var templateFiles embed.FS

func loadTemplate(filename string) string {
	content, err := templateFiles.ReadFile(filename)
	if err != nil {
		slog.Error("Error reading template file!", "err", err, "filename", filename)
		return ""
	}
	return string(content)
}

// NewNotificationManager creates a manager with an SMTP notifier and the device notice templates
func NewNotificationManager(cfg config.EmailConfig) (*notification.NotificationManager, error) {
	emailNotifier, err := notification.NewEmailNotifier(notification.SMTPConfig{
		Host:     cfg.Host,
		Port:     int(cfg.Port),
		TLS:      cfg.TLS,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	})
	if err != nil {
		return nil, err
	}

	manager := notification.NewNotificationManager()
	manager.RegisterNotifier(notification.EmailSystem, emailNotifier)
	if err := RegisterTemplates(manager); err != nil {
		return nil, err
	}
	return manager, nil
}

// RegisterTemplates adds the device notice templates to a manager
func RegisterTemplates(manager *notification.NotificationManager) error {
	err := manager.RegisterNotification(DeviceLimitExceededNotice, notification.EmailSystem, notification.NoticeTemplate{
		Subject: "User blocked: device limit reached",
		Text:    loadTemplate("templates/email/device_limit_exceeded.txt"),
		Html:    loadTemplate("templates/email/device_limit_exceeded.html"),
	})
	if err != nil {
		slog.Error("failed to register device limit notification", "error", err)
		return err
	}
	return nil
}

// Sender delivers a rendered notice
type Sender interface {
	Send(noticeType notification.NoticeType, data notification.NotificationData) error
}

// Service tells the administrator about blocked users
type Service struct {
	sender       Sender
	adminAddress string
}

// NewService creates a notice service sending to adminAddress
func NewService(sender Sender, adminAddress string) *Service {
	return &Service{sender: sender, adminAddress: adminAddress}
}

// NotifyUserBlocked sends the device limit notice for userID
func (s *Service) NotifyUserBlocked(ctx context.Context, userID uuid.UUID, limit int, blockedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.sender.Send(DeviceLimitExceededNotice, notification.NotificationData{
		To: s.adminAddress,
		Data: map[string]string{
			"UserID":    userID.String(),
			"Limit":     strconv.Itoa(limit),
			"BlockedAt": blockedAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send device limit notice for user %s: %w", userID, err)
	}
	slog.Info("Device limit notice sent", "userID", userID, "to", s.adminAddress)
	return nil
}
