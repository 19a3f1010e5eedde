package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/contactbook-hq/contactbook-backend/internal/services"
)

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (ah *AuthHandler) Signup(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body")
		return
	}
	user, err := ah.authService.RegisterUser(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, gin.H{
		"user":   user,
		"detail": "User successfully created. Check your email for confirmation.",
	})
}

func (ah *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body")
		return
	}
	pair, err := ah.authService.LoginUser(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "bearer",
		"expires_in":    int(ah.authService.GetAccessTTL().Seconds()),
	})
}

// Refresh reads the refresh token from the Authorization bearer header, like
// the access-token routes do for access tokens.
func (ah *AuthHandler) Refresh(c *gin.Context) {
	refreshToken := bearerToken(c)
	pair, err := ah.authService.RefreshUser(c.Request.Context(), refreshToken)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "bearer",
		"expires_in":    int(ah.authService.GetAccessTTL().Seconds()),
	})
}

func (ah *AuthHandler) Logout(c *gin.Context) {
	if err := ah.authService.LogoutUser(c.Request.Context()); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "logged out successfully"})
}

func (ah *AuthHandler) ConfirmEmail(c *gin.Context) {
	already, err := ah.authService.ConfirmEmail(c.Request.Context(), c.Param("token"))
	if err != nil {
		RespondError(c, err)
		return
	}
	if already {
		RespondOK(c, gin.H{"message": "Your email is already confirmed"})
		return
	}
	RespondOK(c, gin.H{"message": "Email confirmed"})
}

func (ah *AuthHandler) RequestEmail(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body")
		return
	}
	already, err := ah.authService.RequestConfirmEmail(c.Request.Context(), req.Email)
	if err != nil {
		RespondError(c, err)
		return
	}
	if already {
		RespondOK(c, gin.H{"message": "Your email is already confirmed"})
		return
	}
	RespondOK(c, gin.H{"message": "Check your email for confirmation."})
}

func (ah *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body")
		return
	}
	if err := ah.authService.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "Check your email for the reset token."})
}

func (ah *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body")
		return
	}
	if err := ah.authService.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "Password updated"})
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(authHeader) > len(prefix) && authHeader[:len(prefix)] == prefix {
		return authHeader[len(prefix):]
	}
	return ""
}
