package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-promo-bot/internal/domain"
	"github.com/tbourn/go-promo-bot/internal/repo"
	"github.com/tbourn/go-promo-bot/internal/services"
	"github.com/tbourn/go-promo-bot/internal/utils"
)

//
// Service contracts (context-aware)
//

// PromoService is the promo engine surface used by the admin API.
type PromoService interface {
	// FindLatest returns the most recent promo for phone, or nil when none exists.
	FindLatest(ctx context.Context, phone string) (*domain.Promo, error)
	// IsValid reports whether p is still inside its validity window at now.
	IsValid(p *domain.Promo, now time.Time) bool
	// ExpiresAt returns the end of p's validity window.
	ExpiresAt(p *domain.Promo) time.Time
	// Stats returns promos issued per award label.
	Stats(ctx context.Context) (map[string]int64, error)
}

// SessionService lists logged-in chats.
type SessionService interface {
	ListPage(ctx context.Context, page, pageSize int) ([]domain.User, int64, error)
}

// ReminderService triggers a reminder scan on demand.
type ReminderService interface {
	RunOnce(ctx context.Context) (services.RunSummary, error)
}

// MemberStore adds roster entries. Only the SQL roster implements it.
type MemberStore interface {
	AddMember(ctx context.Context, m *domain.Member) error
}

//
// Handler wiring
//

// Handlers groups the admin endpoints.
type Handlers struct {
	promos    PromoService
	sessions  SessionService
	reminders ReminderService
	members   MemberStore
	now       func() time.Time
}

// New constructs Handlers bound to the given services. members may be nil,
// in which case POST /members answers 501.
func New(promos PromoService, sessions SessionService, reminders ReminderService, members MemberStore) *Handlers {
	return &Handlers{
		promos:    promos,
		sessions:  sessions,
		reminders: reminders,
		members:   members,
		now:       time.Now,
	}
}

//
// DTOs
//

// PromoResponse describes the latest promo of a phone.
type PromoResponse struct {
	Promo     domain.Promo `json:"promo"`
	Valid     bool         `json:"valid"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListUsersResponse wraps a page of sessions.
type ListUsersResponse struct {
	Users      []domain.User `json:"users"`
	Pagination Pagination    `json:"pagination"`
}

// AddMemberRequest is the JSON payload for registering a roster member.
type AddMemberRequest struct {
	Name  string `json:"name"  binding:"required,min=1,max=255" example:"Anna Petrova"`
	Phone string `json:"phone" binding:"required,max=32"        example:"+7 999 123-45-67"`
}

// StatsResponse reports promos issued per award.
type StatsResponse struct {
	Awards map[string]int64 `json:"awards"`
	Total  int64            `json:"total"`
}

//
// Helpers
//

func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), 20),
		20, 100,
	)
}

// storeFailure maps a roster error to a status: retries already happened in
// the service, so a transient cause surfaces as 503.
func storeFailure(c *gin.Context, code string, err error) {
	if errors.Is(err, domain.ErrTransient) {
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}
	fail(c, http.StatusInternalServerError, code, err.Error())
}

//
// Handlers
//

// GetPromo godoc
// @ID          getPromo
// @Summary     Latest promo for a phone
// @Tags        Promos
// @Produce     json
// @Security    BearerAuth
// @Param       phone  path  string  true  "Phone in any accepted format"  example(9991234567)
// @Success     200  {object}  handlers.PromoResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid phone"
// @Failure     404  {object}  handlers.ErrorResponse  "No promo issued"
// @Failure     503  {object}  handlers.ErrorResponse  "Roster unavailable"
// @Router      /promos/{phone} [get]
func (h *Handlers) GetPromo(c *gin.Context) {
	phone, err := services.ParsePhone(c.Param("phone"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidPhone, "phone must contain 10 national digits")
		return
	}
	p, err := h.promos.FindLatest(c.Request.Context(), phone)
	if err != nil {
		storeFailure(c, ErrCodeLookupFailed, err)
		return
	}
	if p == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no promo issued for this phone")
		return
	}
	ok(c, http.StatusOK, PromoResponse{
		Promo:     *p,
		Valid:     h.promos.IsValid(p, h.now()),
		ExpiresAt: h.promos.ExpiresAt(p),
	})
}

// ListUsers godoc
// @ID          listUsers
// @Summary     List logged-in chats (paginated)
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListUsersResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	page, pageSize := clampPagination(c)
	users, total, err := h.sessions.ListPage(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListUsersResponse{
		Users: users,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// RunReminders godoc
// @ID          runReminders
// @Summary     Run one reminder scan now
// @Tags        Reminders
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  services.RunSummary
// @Failure     409  {object}  handlers.ErrorResponse  "A scan is already running"
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /reminders/run [post]
func (h *Handlers) RunReminders(c *gin.Context) {
	sum, err := h.reminders.RunOnce(c.Request.Context())
	switch {
	case errors.Is(err, services.ErrRunInProgress):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeReminderFailed, err.Error())
	default:
		ok(c, http.StatusOK, sum)
	}
}

// AddMember godoc
// @ID          addMember
// @Summary     Register a roster member
// @Tags        Members
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.AddMemberRequest  true  "Member"
// @Success     201  {object}  domain.Member
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Phone already registered"
// @Failure     501  {object}  handlers.ErrorResponse  "Roster backend is read-only"
// @Router      /members [post]
func (h *Handlers) AddMember(c *gin.Context) {
	if h.members == nil {
		fail(c, http.StatusNotImplemented, ErrCodeNotImplemented, "roster backend does not accept new members")
		return
	}
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	phone, err := services.ParsePhone(req.Phone)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidPhone, "phone must contain 10 national digits")
		return
	}

	m := &domain.Member{Name: req.Name, Phone: phone}
	if err := h.members.AddMember(c.Request.Context(), m); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			fail(c, http.StatusConflict, ErrCodeConflict, "phone already registered")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, m)
}

// Stats godoc
// @ID          stats
// @Summary     Promos issued per award
// @Tags        Promos
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.StatsResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Roster unavailable"
// @Router      /stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	counts, err := h.promos.Stats(c.Request.Context())
	if err != nil {
		storeFailure(c, ErrCodeStatsFailed, err)
		return
	}
	resp := StatsResponse{Awards: counts}
	for _, n := range counts {
		resp.Total += n
	}
	ok(c, http.StatusOK, resp)
}
