package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	apperrors "boxlic/internal/errors"
	"boxlic/internal/middleware"
	"boxlic/pkg/contracts/domain"
)

// StateReader is the read-only view of local state the API serves from.
type StateReader interface {
	ReadIdentity() (*domain.DeviceIdentity, error)
	ReadLicense() (*domain.LicenseRecord, error)
}

// LicenseHandler serves license status and entitlements to local consumers
// such as the streamer process.
type LicenseHandler struct {
	reader  StateReader
	logger  *slog.Logger
	started time.Time
}

// NewLicenseHandler creates a license handler over the state reader.
func NewLicenseHandler(reader StateReader, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		reader:  reader,
		logger:  logger.With(slog.String("handler", "license")),
		started: time.Now(),
	}
}

// StatusResponse is the GET /api/license/status payload.
type StatusResponse struct {
	BoxID            string    `json:"box_id"`
	Status           string    `json:"status"`
	Tier             string    `json:"tier,omitempty"`
	Licensed         bool      `json:"licensed"`
	ExpiresAt        time.Time `json:"expires_at,omitempty"`
	LastValidated    time.Time `json:"last_validated,omitempty"`
	GracePeriodHours int       `json:"grace_period_hours,omitempty"`
}

// FeaturesResponse is the GET /api/license/features payload.
type FeaturesResponse struct {
	Features []string `json:"features"`
}

// HealthzResponse is the GET /healthz payload.
type HealthzResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// GetStatus handles GET /api/license/status.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := h.reader.ReadIdentity()
	if err != nil {
		h.logger.WarnContext(ctx, "status request without device identity",
			slog.String("request_id", middleware.GetReqID(ctx)),
			slog.String("error", err.Error()),
		)
		render.Render(w, r, apperrors.Renderer(err))
		return
	}

	record, err := h.reader.ReadLicense()
	if err != nil {
		render.Render(w, r, apperrors.Renderer(err))
		return
	}

	render.JSON(w, r, StatusResponse{
		BoxID:            identity.BoxID,
		Status:           string(record.Status),
		Tier:             record.Tier,
		Licensed:         record.Status.Licensed(),
		ExpiresAt:        record.ExpiresAt,
		LastValidated:    record.LastValidated,
		GracePeriodHours: record.GracePeriodHours,
	})
}

// GetFeatures handles GET /api/license/features. Only a licensed box exposes
// its feature list; expired and revoked boxes report no entitlements.
func (h *LicenseHandler) GetFeatures(w http.ResponseWriter, r *http.Request) {
	record, err := h.reader.ReadLicense()
	if err != nil {
		render.Render(w, r, apperrors.Renderer(err))
		return
	}

	features := record.Features
	if !record.Status.Licensed() || features == nil {
		features = []string{}
	}
	render.JSON(w, r, FeaturesResponse{Features: features})
}

// Healthz handles GET /healthz. Liveness only: it reports that the daemon is
// up, not that the license is valid.
func (h *LicenseHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthzResponse{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}
