package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fixmart-dev/fixmart/internal/identity"
	"github.com/fixmart-dev/fixmart/internal/models"
	"github.com/fixmart-dev/fixmart/internal/profiles"
)

// PublicProfile is what other users see of a profile
type PublicProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
	AvatarURL   string `json:"avatar_url"`
	UserType    string `json:"user_type"`
	Verified    bool   `json:"verified"`
}

// UpdateProfileRequest holds self-service profile edits
type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name" validate:"omitempty,max=80"`
	Bio         *string `json:"bio" validate:"omitempty,max=2000"`
	Phone       *string `json:"phone" validate:"omitempty,max=32"`
	AvatarURL   *string `json:"avatar_url" validate:"omitempty,url,max=512"`
}

// AdminUpdateUserRequest holds privileged profile changes
type AdminUpdateUserRequest struct {
	IsAdmin  *bool   `json:"is_admin"`
	Verified *bool   `json:"verified"`
	UserType *string `json:"user_type" validate:"omitempty,oneof=individual repair_shop organization"`
}

// PageQuery is the common limit/offset pagination
type PageQuery struct {
	Limit  int `form:"limit" validate:"omitempty,min=1,max=200"`
	Offset int `form:"offset" validate:"omitempty,min=0"`
}

// publicOwner is nil safe for relations that were not preloaded
func publicOwner(user *models.User) *PublicProfile {
	if user == nil {
		return nil
	}
	profile := publicProfile(user)
	return &profile
}

func publicProfile(user *models.User) PublicProfile {
	return PublicProfile{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Bio:         user.Bio,
		AvatarURL:   user.AvatarURL,
		UserType:    user.UserType,
		Verified:    user.Verified,
	}
}

func (s *Server) getUser(c *gin.Context) {
	user, err := s.profiles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, publicProfile(user))
}

func (s *Server) updateCurrentUser(c *gin.Context) {
	var req UpdateProfileRequest
	if !s.bindJSON(c, &req) {
		return
	}

	user, err := s.profiles.Update(c.Request.Context(), currentIdentity(c).ID, profiles.UpdateParams{
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		Phone:       req.Phone,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) listUsers(c *gin.Context) {
	var query PageQuery
	if !s.bindQuery(c, &query) {
		return
	}

	users, err := s.profiles.List(c.Request.Context(), query.Limit, query.Offset)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) adminUpdateUser(c *gin.Context) {
	var req AdminUpdateUserRequest
	if !s.bindJSON(c, &req) {
		return
	}

	params := profiles.AdminUpdateParams{IsAdmin: req.IsAdmin, Verified: req.Verified}
	if req.UserType != nil {
		userType := identity.UserType(*req.UserType)
		params.UserType = &userType
	}

	// Profile sync copies claims from the provider on every request, so the
	// provider has to accept the change first
	if s.claims != nil {
		if _, err := s.profiles.Get(c.Request.Context(), c.Param("id")); err != nil {
			s.abort(c, err)
			return
		}
		if err := s.claims.UpdateClaims(c.Request.Context(), c.Param("id"), identity.ClaimsUpdate{
			Type:     params.UserType,
			IsAdmin:  params.IsAdmin,
			Verified: params.Verified,
		}); err != nil {
			s.abort(c, err)
			return
		}
	}

	user, err := s.profiles.AdminUpdate(c.Request.Context(), c.Param("id"), params)
	if err != nil {
		s.abort(c, err)
		return
	}

	s.logger.Info().
		Str("admin_id", currentIdentity(c).ID).
		Str("user_id", user.ID).
		Msg("User updated by admin")

	c.JSON(http.StatusOK, user)
}
