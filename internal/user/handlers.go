package user

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/avelar/shopfence/internal/audit"
	"github.com/avelar/shopfence/internal/fingerprint"
	"github.com/avelar/shopfence/internal/fraud"
	"github.com/avelar/shopfence/internal/logging"
	"github.com/avelar/shopfence/internal/session"
	"github.com/avelar/shopfence/internal/validation"
)

// Handler provides the authentication HTTP endpoints.
type Handler struct {
	store      Store
	sessions   *session.Manager
	audits     audit.Store
	bcryptCost int
}

// NewHandler creates an auth handler.
func NewHandler(store Store, sessions *session.Manager, audits audit.Store, bcryptCost int) *Handler {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Handler{store: store, sessions: sessions, audits: audits, bcryptCost: bcryptCost}
}

// Register handles POST /api/users.
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, email, and password are required"})
		return
	}

	ctx := c.Request.Context()
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.bcryptCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	u := &User{
		ID:           uuid.NewString(),
		Name:         validation.SanitizeString(req.Name, 255),
		Email:        validation.NormalizeEmail(req.Email),
		PasswordHash: string(hash),
		Status:       StatusActive,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.store.Create(ctx, u); err != nil {
		if err == ErrEmailTaken {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		logging.L(ctx).Error("failed to create user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	// No session yet: registration happens pre-authentication
	fc := fingerprint.FromGin(c)
	h.recordAudit(c, &audit.Entry{
		UserID:   u.ID,
		Action:   audit.ActionUserRegister,
		Resource: "user",
		IP:       fc.IP,
		Status:   "success",
	})

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"user":    gin.H{"id": u.ID, "name": u.Name, "email": u.Email},
	})
}

// Login handles POST /api/login.
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	ctx := c.Request.Context()
	u, err := h.store.GetByEmail(ctx, validation.NormalizeEmail(req.Email))
	if err != nil {
		// Same answer for unknown email and bad password
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid credentials"})
		return
	}
	if u.Status != StatusActive {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "account is inactive or blocked"})
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid credentials"})
		return
	}

	fc := fingerprint.FromGin(c)
	token, sessionID, err := h.sessions.Create(ctx, u.ID, u.Email, fc)
	if err != nil {
		logging.L(ctx).Error("failed to create session", "error", err, "user_id", u.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	h.recordAudit(c, &audit.Entry{
		SessionID: sessionID,
		UserID:    u.ID,
		Action:    audit.ActionUserLogin,
		Resource:  "session",
		IP:        fc.IP,
		Status:    "success",
	})

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"token":      token,
		"user":       gin.H{"id": u.ID, "name": u.Name, "email": u.Email},
		"risk_score": fraud.ResultFromGin(c).Risk.Score,
	})
}

// Logout handles POST /api/logout. Requires a validated session.
func (h *Handler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	token := session.BearerToken(c)
	if token != "" {
		if err := h.sessions.Revoke(ctx, token); err != nil {
			logging.L(ctx).Error("failed to revoke session", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
	}

	fc := fingerprint.FromGin(c)
	entry := &audit.Entry{
		Action:   audit.ActionUserLogout,
		Resource: "session",
		IP:       fc.IP,
		Status:   "success",
	}
	if ident, ok := session.IdentityFromGin(c); ok {
		entry.SessionID = ident.SessionID
		entry.UserID = ident.UserID
	}
	h.recordAudit(c, entry)

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "logged out"})
}

// recordAudit appends one audit entry; failures are logged, never surfaced.
func (h *Handler) recordAudit(c *gin.Context, e *audit.Entry) {
	e.UserAgent = c.Request.UserAgent()
	e.CreatedAt = time.Now().UTC()
	if err := h.audits.Insert(c.Request.Context(), e); err != nil {
		logging.L(c.Request.Context()).Error("failed to record audit entry",
			"error", err,
			"action", e.Action,
		)
	}
}
