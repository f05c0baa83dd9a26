package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fixmart-dev/fixmart/internal/apperr"
	"github.com/fixmart-dev/fixmart/internal/authz"
	"github.com/fixmart-dev/fixmart/internal/identity"
)

const (
	bearerPrefix    = "bearer "
	requestIDHeader = "X-Request-ID"

	ctxRequestID = "request_id"
	ctxUserID    = "user_id"
	ctxProfile   = "profile"
	ctxResource  = "resource"

	defaultIdentityTimeout = 5 * time.Second
	maxRequestIDLength     = 64
)

// abort records err for errorMiddleware and stops the chain
func (s *Server) abort(c *gin.Context, err error) {
	if err == nil {
		err = errors.New("abort called without an error")
	}
	_ = c.Error(err)
	c.Abort()
}

// requestIDMiddleware echoes a caller-supplied request ID or assigns a new one
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}

		c.Set(ctxRequestID, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = s.logger.Error()
		case status >= http.StatusBadRequest:
			event = s.logger.Warn()
		default:
			event = s.logger.Info()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString(ctxRequestID)).
			Str("user_id", c.GetString(ctxUserID)).
			Msg("HTTP request")
	}
}

// errorMiddleware is the single place where errors become responses
func (s *Server) errorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status, envelope := apperr.Normalize(err)

		if status >= http.StatusInternalServerError {
			s.logger.Error().
				Err(err).
				Str("request_id", c.GetString(ctxRequestID)).
				Str("path", c.Request.URL.Path).
				Msg("Request failed")
		}

		c.JSON(status, envelope)
	}
}

// recoveryHandler renders panics as unexpected errors
func (s *Server) recoveryHandler(c *gin.Context, recovered any) {
	s.logger.Error().
		Interface("panic", recovered).
		Str("request_id", c.GetString(ctxRequestID)).
		Str("path", c.Request.URL.Path).
		Msg("Recovered from panic")

	status, envelope := apperr.Normalize(apperr.Unexpected(fmt.Errorf("panic: %v", recovered)))
	c.AbortWithStatusJSON(status, envelope)
}

// credentialFromRequest reads the bearer token, falling back to the session
// cookie. A non-bearer Authorization header carries no credential.
func credentialFromRequest(c *gin.Context, cookieName string) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
			return strings.TrimSpace(header[len(bearerPrefix):])
		}
		return ""
	}

	if cookieName != "" {
		if cookie, err := c.Cookie(cookieName); err == nil {
			return strings.TrimSpace(cookie)
		}
	}
	return ""
}

// identityMiddleware resolves the request's credential exactly once. Requests
// without a valid credential continue unauthenticated; a provider failure
// ends the request.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	timeout := s.config.Identity.Timeout
	if timeout <= 0 {
		timeout = defaultIdentityTimeout
	}

	return func(c *gin.Context) {
		rc := &identity.RequestContext{
			RequestID:  c.GetString(ctxRequestID),
			Credential: credentialFromRequest(c, s.config.Identity.CookieName),
		}

		if rc.Credential != "" {
			ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
			ident, session, err := s.identity.Resolve(ctx, rc.Credential)
			if err == nil && ctx.Err() != nil {
				err = ctx.Err()
			}
			cancel()

			if err != nil {
				if !errors.Is(err, identity.ErrProviderUnavailable) {
					err = fmt.Errorf("%w: %v", identity.ErrProviderUnavailable, err)
				}
				s.logger.Error().Err(err).Str("request_id", rc.RequestID).Msg("Identity provider call failed")
				s.abort(c, err)
				return
			}

			rc.Identity, rc.Session = ident, session
		}

		if rc.Identity != nil {
			c.Set(ctxUserID, rc.Identity.ID)
		}
		c.Request = c.Request.WithContext(identity.WithRequestContext(c.Request.Context(), rc))
		c.Next()
	}
}

// requireIdentity is the access guard of authenticated routes
func (s *Server) requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, _ := identity.FromContext(c.Request.Context())
		if !authz.CanActivate(rc) {
			s.abort(c, apperr.Unauthenticated(""))
			return
		}
		c.Next()
	}
}

// syncProfile makes sure the authenticated identity has a profile row
func (s *Server) syncProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := identity.IdentityFromContext(c.Request.Context())
		profile, err := s.profiles.Sync(c.Request.Context(), ident)
		if err != nil {
			s.abort(c, err)
			return
		}
		c.Set(ctxProfile, profile)
		c.Next()
	}
}

// resourceLoader fetches the target of an action. Loaders store the loaded
// record under ctxResource for the handler.
type resourceLoader func(c *gin.Context, ident *identity.Identity) (authz.Resource, error)

// authorize evaluates the policy for action before the handler runs
func (s *Server) authorize(action authz.Action, load resourceLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := identity.IdentityFromContext(c.Request.Context())

		var resource authz.Resource
		if load != nil && ident != nil {
			var err error
			if resource, err = load(c, ident); err != nil {
				s.abort(c, err)
				return
			}
		}

		decision := s.policy.Authorize(ident, action, resource)
		if !decision.Allow {
			s.logger.Info().
				Str("request_id", c.GetString(ctxRequestID)).
				Str("action", string(action)).
				Str("resource", resource.Kind+"/"+resource.ID).
				Str("reason", string(decision.Reason)).
				Msg("Access denied")
			s.abort(c, denial(decision))
			return
		}

		c.Next()
	}
}

// denial converts a negative decision into the error clients see
func denial(decision authz.Decision) *apperr.Error {
	switch decision.Reason {
	case authz.ReasonUnauthenticated:
		return apperr.Unauthenticated("")
	case authz.ReasonForbiddenRole:
		return apperr.New(apperr.KindForbiddenRole, "")
	case authz.ReasonNotOwner:
		return apperr.New(apperr.KindNotOwner, "")
	default:
		return apperr.Forbidden("No policy allows this action")
	}
}

// currentIdentity returns the identity of an authenticated route
func currentIdentity(c *gin.Context) *identity.Identity {
	return identity.IdentityFromContext(c.Request.Context())
}

// loaded returns the record stored by the route's resource loader
func loaded[T any](c *gin.Context) *T {
	value, ok := c.Get(ctxResource)
	if !ok {
		return nil
	}
	record, _ := value.(*T)
	return record
}
