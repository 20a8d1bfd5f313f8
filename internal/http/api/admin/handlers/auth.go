package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/apifleet/apimanager/internal/config"
	"github.com/apifleet/apimanager/internal/models"
	"github.com/apifleet/apimanager/internal/security"
)

// totpIssuer names the service inside authenticator apps.
const totpIssuer = "API Manager"

// AuthHandler manages admin sessions and the TOTP second factor.
type AuthHandler struct {
	db  *gorm.DB
	jwt config.JWTConfig
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{db: db, jwt: jwtCfg}
}

// loginRequest is the payload for admin login.
type loginRequest struct {
	Username string `json:"username"` // Login name.
	Password string `json:"password"` // Plaintext password.
	OtpCode  string `json:"otpCode"`  // TOTP code, required once enabled.
}

// Login verifies admin credentials and issues a session token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		respondError(c, http.StatusBadRequest, "invalid json")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		respondError(c, http.StatusBadRequest, "missing username or password")
		return
	}

	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).Where("username = ?", username).First(&admin).Error; errFind != nil {
		respondError(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !security.VerifyPassword(admin.PasswordHash, req.Password) {
		respondError(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !admin.Active {
		respondError(c, http.StatusForbidden, "admin disabled")
		return
	}
	if admin.TOTPSecret != "" && !security.ValidateTOTP(admin.TOTPSecret, req.OtpCode) {
		respondError(c, http.StatusUnauthorized, "invalid otp code")
		return
	}

	token, errToken := security.GenerateAdminToken(h.jwt.Secret, h.jwt.Expiry, admin.ID)
	if errToken != nil {
		respondError(c, http.StatusInternalServerError, "issue token failed")
		return
	}

	now := time.Now().UTC()
	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(&models.Admin{}).
		Where("id = ?", admin.ID).
		Updates(map[string]any{"last_login_at": now, "updated_at": now}).Error; errUpdate != nil {
		log.WithError(errUpdate).Warn("update last login failed")
	}

	respondData(c, http.StatusOK, gin.H{
		"token":     token,
		"expiresAt": now.Add(h.jwt.Expiry),
	})
}

// Me returns the authenticated admin's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	admin, ok := h.currentAdmin(c)
	if !ok {
		return
	}
	respondData(c, http.StatusOK, formatAdminRow(admin))
}

// PrepareTOTP generates a fresh TOTP secret without persisting it.
func (h *AuthHandler) PrepareTOTP(c *gin.Context) {
	admin, ok := h.currentAdmin(c)
	if !ok {
		return
	}

	secret, url, errGenerate := security.GenerateTOTPSecret(totpIssuer, admin.Username)
	if errGenerate != nil {
		respondError(c, http.StatusInternalServerError, "generate totp secret failed")
		return
	}
	respondData(c, http.StatusOK, gin.H{
		"secret":     secret,
		"otpauthUrl": url,
	})
}

// confirmTOTPRequest is the payload for enabling TOTP.
type confirmTOTPRequest struct {
	Secret string `json:"secret"` // Secret produced by PrepareTOTP.
	Code   string `json:"code"`   // Current code for that secret.
}

// ConfirmTOTP validates the code against the pending secret and enables TOTP.
func (h *AuthHandler) ConfirmTOTP(c *gin.Context) {
	admin, ok := h.currentAdmin(c)
	if !ok {
		return
	}

	var req confirmTOTPRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		respondError(c, http.StatusBadRequest, "invalid json")
		return
	}
	secret := strings.TrimSpace(req.Secret)
	if secret == "" {
		respondError(c, http.StatusBadRequest, "missing secret")
		return
	}
	if !security.ValidateTOTP(secret, req.Code) {
		respondError(c, http.StatusBadRequest, "invalid totp code")
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(&models.Admin{}).
		Where("id = ?", admin.ID).
		Updates(map[string]any{"totp_secret": secret, "updated_at": time.Now().UTC()}).Error; errUpdate != nil {
		respondError(c, http.StatusInternalServerError, "enable totp failed")
		return
	}
	respondMessage(c, http.StatusOK, "totp enabled")
}

// DisableTOTP clears the stored TOTP secret.
func (h *AuthHandler) DisableTOTP(c *gin.Context) {
	admin, ok := h.currentAdmin(c)
	if !ok {
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(&models.Admin{}).
		Where("id = ?", admin.ID).
		Updates(map[string]any{"totp_secret": "", "updated_at": time.Now().UTC()}).Error; errUpdate != nil {
		respondError(c, http.StatusInternalServerError, "disable totp failed")
		return
	}
	respondMessage(c, http.StatusOK, "totp disabled")
}

// currentAdmin loads the admin resolved by the auth middleware.
func (h *AuthHandler) currentAdmin(c *gin.Context) (*models.Admin, bool) {
	raw, exists := c.Get("adminID")
	adminID, okID := raw.(uint64)
	if !exists || !okID {
		respondError(c, http.StatusUnauthorized, "missing admin context")
		return nil, false
	}

	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).First(&admin, adminID).Error; errFind != nil {
		respondError(c, http.StatusUnauthorized, "admin not found")
		return nil, false
	}
	return &admin, true
}

// formatAdminRow shapes an admin row for API responses.
func formatAdminRow(row *models.Admin) gin.H {
	return gin.H{
		"id":          row.ID,
		"username":    row.Username,
		"totpEnabled": row.TOTPSecret != "",
		"active":      row.Active,
		"lastLoginAt": row.LastLoginAt,
		"createdAt":   row.CreatedAt,
	}
}
