package user

import (
	"collaborative-office-suite/internal/errors"
	"collaborative-office-suite/internal/middleware"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for users
type Handler struct {
	service Service
}

// NewHandler creates a new user handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// FormLogin represents login form data
type FormLogin struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// FormRegister represents registration form data
type FormRegister struct {
	DisplayName string `json:"display_name" binding:"required,max=100"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=6"`
}

type FormReauthenticate struct {
	Password string `json:"password" binding:"required"`
}

type FormProfile struct {
	DisplayName string `json:"display_name" binding:"required,max=100"`
}

// Register handles user registration
func (h *Handler) Register(c *gin.Context) {
	var form FormRegister
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	result, err := h.service.SignUp(c.Request.Context(), form.Email, form.Password, form.DisplayName)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"access_token": result.AccessToken,
		"user":         result.User.ToSafeUser(),
	})
}

// Login handles user login
func (h *Handler) Login(c *gin.Context) {
	var form FormLogin
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	result, err := h.service.SignIn(c.Request.Context(), form.Email, form.Password)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": result.AccessToken,
		"user":         result.User.ToSafeUser(),
	})
}

// Reauthenticate exchanges the password for a token with a fresh auth time.
func (h *Handler) Reauthenticate(c *gin.Context) {
	var form FormReauthenticate
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	result, err := h.service.Reauthenticate(c.Request.Context(), c.GetString(middleware.ContextUserID), form.Password)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": result.AccessToken})
}

// Logout handles user logout
func (h *Handler) Logout(c *gin.Context) {
	if err := h.service.SignOut(c.Request.Context(), c.GetString(middleware.ContextUserID)); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetProfile handles getting the current user's profile
func (h *Handler) GetProfile(c *gin.Context) {
	user, err := h.service.GetUserByID(c.Request.Context(), c.GetString(middleware.ContextUserID))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, user.ToSafeUser())
}

// UpdateProfile answers 401 requires-recent-login when the token is too old.
// The client reauthenticates and retries with the new token.
func (h *Handler) UpdateProfile(c *gin.Context) {
	var form FormProfile
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	user, err := h.service.UpdateProfile(
		c.Request.Context(),
		c.GetString(middleware.ContextUserID),
		middleware.AuthTime(c),
		form.DisplayName,
	)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, user.ToSafeUser())
}
