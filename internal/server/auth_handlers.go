package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fixmart-dev/fixmart/internal/apperr"
	"github.com/fixmart-dev/fixmart/internal/identity"
	"github.com/fixmart-dev/fixmart/internal/models"
	"github.com/fixmart-dev/fixmart/internal/profiles"
)

// SignupRequest represents an account registration
type SignupRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"display_name" validate:"omitempty,max=80"`
	UserType    string `json:"user_type" validate:"omitempty,oneof=individual repair_shop organization"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SessionResponse is returned by signup and login
type SessionResponse struct {
	User                 *models.User      `json:"user"`
	Session              *identity.Session `json:"session"`
	ConfirmationRequired bool              `json:"confirmation_required"`
}

// MeResponse describes the caller
type MeResponse struct {
	User     *models.User       `json:"user"`
	Identity *identity.Identity `json:"identity"`
}

func (s *Server) bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		s.abort(c, apperr.Validation(err))
		return false
	}
	if err := s.validator.Struct(req); err != nil {
		s.abort(c, apperr.Validation(err))
		return false
	}
	return true
}

func (s *Server) bindQuery(c *gin.Context, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		s.abort(c, apperr.Validation(err))
		return false
	}
	if err := s.validator.Struct(req); err != nil {
		s.abort(c, apperr.Validation(err))
		return false
	}
	return true
}

func (s *Server) setSessionCookie(c *gin.Context, session *identity.Session) {
	if session == nil || s.config.Identity.CookieName == "" {
		return
	}
	maxAge := int(time.Until(session.ExpiresAt).Seconds())
	if maxAge <= 0 {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.config.Identity.CookieName, session.Token, maxAge, "/", "", c.Request.TLS != nil, true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	if s.config.Identity.CookieName == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.config.Identity.CookieName, "", -1, "/", "", c.Request.TLS != nil, true)
}

func (s *Server) signup(c *gin.Context) {
	var req SignupRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if s.accounts == nil {
		s.abort(c, apperr.InvalidState("Sign up is not available on this server"))
		return
	}

	ident, session, err := s.accounts.SignUp(c.Request.Context(), identity.SignUpParams{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Type:        identity.ParseUserType(req.UserType),
	})
	if err != nil {
		s.abort(c, err)
		return
	}

	profile, err := s.profiles.Sync(c.Request.Context(), ident)
	if err != nil {
		s.abort(c, err)
		return
	}
	if req.DisplayName != "" && profile.DisplayName == "" {
		if profile, err = s.profiles.Update(c.Request.Context(), profile.ID, profiles.UpdateParams{DisplayName: &req.DisplayName}); err != nil {
			s.abort(c, err)
			return
		}
	}

	s.logger.Info().Str("user_id", profile.ID).Str("user_type", profile.UserType).Msg("Account created")

	s.setSessionCookie(c, session)
	c.JSON(http.StatusCreated, SessionResponse{
		User:                 profile,
		Session:              session,
		ConfirmationRequired: session == nil,
	})
}

func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if s.accounts == nil {
		s.abort(c, apperr.InvalidState("Login is not available on this server"))
		return
	}

	ident, session, err := s.accounts.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.abort(c, err)
		return
	}

	profile, err := s.profiles.Sync(c.Request.Context(), ident)
	if err != nil {
		s.abort(c, err)
		return
	}

	s.logger.Info().Str("user_id", profile.ID).Msg("User logged in")

	s.setSessionCookie(c, session)
	c.JSON(http.StatusOK, SessionResponse{User: profile, Session: session})
}

func (s *Server) logout(c *gin.Context) {
	rc, _ := identity.FromContext(c.Request.Context())

	if s.accounts != nil {
		if err := s.accounts.SignOut(c.Request.Context(), rc.Credential); err != nil {
			s.abort(c, err)
			return
		}
	}

	s.clearSessionCookie(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) getCurrentUser(c *gin.Context) {
	profile, _ := c.Get(ctxProfile)
	user, _ := profile.(*models.User)

	c.JSON(http.StatusOK, MeResponse{User: user, Identity: currentIdentity(c)})
}
