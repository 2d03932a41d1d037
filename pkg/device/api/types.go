package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-device/pkg/fingerprint"
)

// RegisterDeviceRequest is the body of POST /register
type RegisterDeviceRequest struct {
	Fingerprint json.RawMessage `json:"fingerprint" validate:"required"`
}

// RenameDeviceRequest is the body of PATCH /{id}
type RenameDeviceRequest struct {
	Label string `json:"label" validate:"required,max=100"`
}

// DeviceResponse is a device as returned to clients. The stored hash is not exposed.
type DeviceResponse struct {
	ID          uuid.UUID               `json:"id"`
	UserID      uuid.UUID               `json:"user_id"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	DeviceLabel string                  `json:"device_label"`
	IsActive    bool                    `json:"is_active"`
	CreatedAt   time.Time               `json:"created_at"`
	LastUsedAt  time.Time               `json:"last_used_at"`
}

// RegisterDeviceResponse reports which registration path was taken
type RegisterDeviceResponse struct {
	Status  string         `json:"status"`
	Outcome string         `json:"outcome"`
	Score   float64        `json:"score,omitempty"`
	Device  DeviceResponse `json:"device"`
}

// DeviceResult wraps a single device
type DeviceResult struct {
	Status string         `json:"status"`
	Device DeviceResponse `json:"device"`
}

// ListDevicesResponse represents the response body for listing devices
type ListDevicesResponse struct {
	Status  string           `json:"status"`
	Devices []DeviceResponse `json:"devices"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// UserStatusResponse is the quota view of a user
type UserStatusResponse struct {
	Status        string    `json:"status"`
	UserID        uuid.UUID `json:"user_id"`
	Blocked       bool      `json:"blocked"`
	ActiveDevices int       `json:"active_devices"`
	DeviceCap     int       `json:"device_cap"`
}
