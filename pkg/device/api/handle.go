package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/tendant/simple-device/pkg/client"
	"github.com/tendant/simple-device/pkg/device"
	apperrors "github.com/tendant/simple-device/pkg/errors"
	"github.com/tendant/simple-device/pkg/metrics"
)

// BlockNotifier is told when a registration blocks a user
type BlockNotifier interface {
	NotifyUserBlocked(ctx context.Context, userID uuid.UUID, limit int, blockedAt time.Time) error
}

const defaultNoticeTimeout = 30 * time.Second

// DeviceHandler handles HTTP requests for device management
type DeviceHandler struct {
	deviceService *device.DeviceService
	validate      *validator.Validate
	metrics       *metrics.Metrics
	notifier      BlockNotifier
	noticeTimeout time.Duration
}

// Option configures a DeviceHandler
type Option func(*DeviceHandler)

// WithMetrics records registration outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *DeviceHandler) { h.metrics = m }
}

// WithBlockNotifier sends a notice whenever a registration blocks a user
func WithBlockNotifier(n BlockNotifier) Option {
	return func(h *DeviceHandler) { h.notifier = n }
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(deviceService *device.DeviceService, opts ...Option) *DeviceHandler {
	h := &DeviceHandler{
		deviceService: deviceService,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		noticeTimeout: defaultNoticeTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterDevice handles POST /register
func (h *DeviceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := authUserID(w, r)
	if !ok {
		return
	}

	var req RegisterDeviceRequest
	if !h.decode(w, r, &req) {
		return
	}

	reg, err := h.deviceService.RegisterDevice(r.Context(), userID, fillRequestSignals(req.Fingerprint, r))
	if err != nil {
		h.observeFailure(userID, err)
		apperrors.Render(w, r, err)
		return
	}
	h.observeSuccess(reg)

	var resp DeviceResponse
	if err := copier.Copy(&resp, &reg.Device); err != nil {
		apperrors.Render(w, r, apperrors.InternalWrap(err, "failed to map device"))
		return
	}

	status := http.StatusOK
	if reg.Outcome == device.OutcomeCreated || reg.Outcome == device.OutcomeReactivated {
		status = http.StatusCreated
	}
	render.Status(r, status)
	render.JSON(w, r, RegisterDeviceResponse{
		Status:  "success",
		Outcome: string(reg.Outcome),
		Score:   reg.Score,
		Device:  resp,
	})
}

// ListActiveDevices handles GET /
func (h *DeviceHandler) ListActiveDevices(w http.ResponseWriter, r *http.Request) {
	userID, ok := authUserID(w, r)
	if !ok {
		return
	}
	devices, err := h.deviceService.ListActiveDevices(r.Context(), userID)
	h.renderDevices(w, r, devices, err)
}

// ListAllDevices handles GET /all
func (h *DeviceHandler) ListAllDevices(w http.ResponseWriter, r *http.Request) {
	userID, ok := authUserID(w, r)
	if !ok {
		return
	}
	devices, err := h.deviceService.ListDevices(r.Context(), userID)
	h.renderDevices(w, r, devices, err)
}

// RenameDevice handles PATCH /{id}
func (h *DeviceHandler) RenameDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := authUserID(w, r)
	if !ok {
		return
	}
	deviceID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req RenameDeviceRequest
	if !h.decode(w, r, &req) {
		return
	}

	d, err := h.deviceService.RenameDevice(r.Context(), userID, deviceID, req.Label)
	h.renderDevice(w, r, d, err)
}

// DeactivateDevice handles DELETE /{id}
func (h *DeviceHandler) DeactivateDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := authUserID(w, r)
	if !ok {
		return
	}
	deviceID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	d, err := h.deviceService.DeactivateDevice(r.Context(), userID, deviceID)
	h.renderDevice(w, r, d, err)
}

// AdminListDevices handles GET /users/{userID}/devices
func (h *DeviceHandler) AdminListDevices(w http.ResponseWriter, r *http.Request) {
	userID, ok := uuidParam(w, r, "userID")
	if !ok {
		return
	}
	devices, err := h.deviceService.ListDevices(r.Context(), userID)
	h.renderDevices(w, r, devices, err)
}

// AdminDeactivateDevice handles POST /users/{userID}/devices/{id}/deactivate
func (h *DeviceHandler) AdminDeactivateDevice(w http.ResponseWriter, r *http.Request) {
	userID, deviceID, ok := userAndDevice(w, r)
	if !ok {
		return
	}
	d, err := h.deviceService.DeactivateDevice(r.Context(), userID, deviceID)
	h.renderDevice(w, r, d, err)
}

// AdminReactivateDevice handles POST /users/{userID}/devices/{id}/reactivate
func (h *DeviceHandler) AdminReactivateDevice(w http.ResponseWriter, r *http.Request) {
	userID, deviceID, ok := userAndDevice(w, r)
	if !ok {
		return
	}
	d, err := h.deviceService.ReactivateDevice(r.Context(), userID, deviceID)
	h.renderDevice(w, r, d, err)
}

// AdminUnblockUser handles POST /users/{userID}/unblock
func (h *DeviceHandler) AdminUnblockUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := uuidParam(w, r, "userID")
	if !ok {
		return
	}
	if err := h.deviceService.UnblockUser(r.Context(), userID); err != nil {
		apperrors.Render(w, r, err)
		return
	}
	admin := client.GetAuthUser(r)
	if admin != nil {
		slog.Info("User unblocked by admin", "userID", userID, "admin", admin)
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, SuccessResponse{Status: "success", Message: "User unblocked"})
}

// AdminUserStatus handles GET /users/{userID}/status
func (h *DeviceHandler) AdminUserStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := uuidParam(w, r, "userID")
	if !ok {
		return
	}
	status, err := h.deviceService.GetUserStatus(r.Context(), userID)
	if err != nil {
		apperrors.Render(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, UserStatusResponse{
		Status:        "success",
		UserID:        status.UserID,
		Blocked:       status.Blocked,
		ActiveDevices: status.ActiveDevices,
		DeviceCap:     status.DeviceCap,
	})
}

// Handler returns a http.Handler for the device API. Callers mount it behind authentication.
func Handler(h *DeviceHandler) http.Handler {
	r := chi.NewRouter()

	r.Get("/", h.ListActiveDevices)
	r.Get("/all", h.ListAllDevices)
	r.Post("/register", h.RegisterDevice)
	r.Patch("/{id}", h.RenameDevice)
	r.Delete("/{id}", h.DeactivateDevice)

	return r
}

// AdminHandler returns the administrative routes, restricted to admin roles
func AdminHandler(h *DeviceHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(client.AdminRoleMiddleware)

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/devices", h.AdminListDevices)
		r.Post("/devices/{id}/deactivate", h.AdminDeactivateDevice)
		r.Post("/devices/{id}/reactivate", h.AdminReactivateDevice)
		r.Post("/unblock", h.AdminUnblockUser)
		r.Get("/status", h.AdminUserStatus)
	})

	return r
}

func (h *DeviceHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		apperrors.Render(w, r, apperrors.ValidationFailed(map[string]interface{}{"body": "must be a JSON object"}))
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		details := make(map[string]interface{})
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
		}
		apperrors.Render(w, r, apperrors.ValidationFailed(details))
		return false
	}
	return true
}

func (h *DeviceHandler) renderDevice(w http.ResponseWriter, r *http.Request, d device.Device, err error) {
	if err != nil {
		apperrors.Render(w, r, err)
		return
	}
	var resp DeviceResponse
	if err := copier.Copy(&resp, &d); err != nil {
		apperrors.Render(w, r, apperrors.InternalWrap(err, "failed to map device"))
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, DeviceResult{Status: "success", Device: resp})
}

func (h *DeviceHandler) renderDevices(w http.ResponseWriter, r *http.Request, devices []device.Device, err error) {
	if err != nil {
		slog.Error("Failed to list devices", "error", err)
		apperrors.Render(w, r, err)
		return
	}
	resp := make([]DeviceResponse, 0, len(devices))
	if err := copier.Copy(&resp, &devices); err != nil {
		apperrors.Render(w, r, apperrors.InternalWrap(err, "failed to map devices"))
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, ListDevicesResponse{Status: "success", Devices: resp})
}

func (h *DeviceHandler) observeSuccess(reg device.Registration) {
	if h.metrics == nil {
		return
	}
	h.metrics.ObserveRegistration(string(reg.Outcome))
	if reg.Outcome == device.OutcomeSimilar {
		h.metrics.ObserveSimilarity(reg.Score)
	}
	if reg.HashCollision {
		h.metrics.ObserveCollision()
	}
}

func (h *DeviceHandler) observeFailure(userID uuid.UUID, err error) {
	if h.metrics != nil {
		h.metrics.ObserveRegistration(string(apperrors.GetCode(err)))
	}
	if !device.IsLimitExceeded(err) {
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveLimitExceeded()
	}
	if h.notifier == nil {
		return
	}

	limit := h.deviceService.DeviceCap()
	blockedAt := time.Now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.noticeTimeout)
		defer cancel()
		if err := h.notifier.NotifyUserBlocked(ctx, userID, limit, blockedAt); err != nil {
			slog.Warn("Failed to send blocked user notice", "userID", userID, "err", err)
		}
	}()
}

func authUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	user := client.GetAuthUser(r)
	if user == nil || user.UserUuid == uuid.Nil {
		apperrors.Render(w, r, apperrors.Unauthorized("authentication required"))
		return uuid.Nil, false
	}
	return user.UserUuid, true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		apperrors.Render(w, r, apperrors.InvalidInput(name, "must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func userAndDevice(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := uuidParam(w, r, "userID")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	deviceID, ok := uuidParam(w, r, "id")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return userID, deviceID, true
}
