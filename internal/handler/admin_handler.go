package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/artshare/internal/domain"
	"github.com/prn-tf/artshare/internal/service"
)

// AdminHandler exposes operator endpoints over the maintenance, user and
// points services.
type AdminHandler struct {
	maintenanceService *service.MaintenanceService
	userService        *service.UserService
	pointsService      *service.PointsService
	logger             zerolog.Logger
}

// AdminConfig contains configuration for the admin handler.
type AdminConfig struct {
	MaintenanceService *service.MaintenanceService
	UserService        *service.UserService
	PointsService      *service.PointsService
	Logger             zerolog.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	return &AdminHandler{
		maintenanceService: cfg.MaintenanceService,
		userService:        cfg.UserService,
		pointsService:      cfg.PointsService,
		logger:             cfg.Logger.With().Str("handler", "admin").Logger(),
	}
}

// =============================================================================
// Response Structs
// =============================================================================

// UserSummary is the operator view of a user. The password hash is omitted.
type UserSummary struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Points    int64     `json:"points"`
	Artworks  int       `json:"artworks"`
	Followers int       `json:"followers"`
	Following int       `json:"following"`
	CreatedAt time.Time `json:"created_at"`
}

// PointsAudit compares the stored balance of a user with the ledger.
type PointsAudit struct {
	UserID       string                      `json:"user_id"`
	Balance      int64                       `json:"balance"`
	Ledger       int64                       `json:"ledger"`
	Consistent   bool                        `json:"consistent"`
	Transactions []*domain.PointsTransaction `json:"transactions"`
}

// SweepResponse reports one maintenance run.
type SweepResponse struct {
	Skipped          bool             `json:"skipped"`
	UsersRepaired    int              `json:"users_repaired"`
	ArtworksRepaired int              `json:"artworks_repaired"`
	RefsDropped      int              `json:"refs_dropped"`
	CountersRaised   map[string]int64 `json:"counters_raised"`
	Errors           int              `json:"errors"`
	DurationMillis   int64            `json:"duration_ms"`
}

// SyncResponse reports a per-user repair.
type SyncResponse struct {
	UserID          string   `json:"user_id"`
	Points          int64    `json:"points"`
	DroppedArtworks []string `json:"dropped_artworks"`
}

func summarize(u *domain.User) UserSummary {
	return UserSummary{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Points:    u.Points,
		Artworks:  len(u.Artworks),
		Followers: len(u.Followers),
		Following: len(u.Following),
		CreatedAt: u.CreatedAt,
	}
}

// =============================================================================
// Route Registration
// =============================================================================

// RegisterRoutes registers admin routes.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/users", h.handleUserList)
		r.Get("/users/{id}", h.handleUserDetail)
		r.Get("/users/{id}/points", h.handlePointsAudit)
		r.Post("/users/{id}/sync", h.handleUserSync)
		r.Post("/users/dedupe", h.handleDedupe)
		r.Post("/maintenance/run", h.handleMaintenanceRun)
	})
}

// =============================================================================
// Users
// =============================================================================

func (h *AdminHandler) handleUserList(w http.ResponseWriter, r *http.Request) {
	users, err := h.maintenanceService.ListUsers(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list users")
		writeError(w, err)
		return
	}

	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, summarize(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) handleUserDetail(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(user))
}

func (h *AdminHandler) handleDedupe(w http.ResponseWriter, r *http.Request) {
	removed, err := h.maintenanceService.DedupeUsers(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Strs("removed", removed).Msg("Dedupe failed")
		writeError(w, err)
		return
	}
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"removed": removed})
}

func (h *AdminHandler) handleUserSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	user, err := h.pointsService.SyncUserPoints(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	dropped, err := h.userService.SyncUserArtworks(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if dropped == nil {
		dropped = []string{}
	}

	writeJSON(w, http.StatusOK, SyncResponse{
		UserID:          user.ID,
		Points:          user.Points,
		DroppedArtworks: dropped,
	})
}

// =============================================================================
// Points
// =============================================================================

func (h *AdminHandler) handlePointsAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	user, err := h.userService.GetByID(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	txs, err := h.pointsService.Transactions(ctx, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	ledger, err := h.pointsService.LedgerBalance(ctx, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PointsAudit{
		UserID:       user.ID,
		Balance:      user.Points,
		Ledger:       ledger,
		Consistent:   ledger == user.Points,
		Transactions: txs,
	})
}

// =============================================================================
// Maintenance
// =============================================================================

func (h *AdminHandler) handleMaintenanceRun(w http.ResponseWriter, r *http.Request) {
	result := h.maintenanceService.RunOnce(r.Context())

	status := http.StatusOK
	if result.Skipped {
		status = http.StatusConflict
	}
	writeJSON(w, status, SweepResponse{
		Skipped:          result.Skipped,
		UsersRepaired:    result.UsersRepaired,
		ArtworksRepaired: result.ArtworksRepaired,
		RefsDropped:      result.RefsDropped,
		CountersRaised:   result.CountersRaised,
		Errors:           result.Errors,
		DurationMillis:   result.Duration.Milliseconds(),
	})
}
