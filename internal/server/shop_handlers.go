package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fixmart-dev/fixmart/internal/models"
	"github.com/fixmart-dev/fixmart/internal/shops"
)

// ListShopsQuery filters shop discovery
type ListShopsQuery struct {
	City   string `form:"city" validate:"omitempty,max=100"`
	Query  string `form:"q" validate:"omitempty,max=100"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" validate:"omitempty,min=0"`
}

// CreateShopRequest represents a new repair shop
type CreateShopRequest struct {
	Name        string   `json:"name" validate:"required,min=2,max=120"`
	Description string   `json:"description" validate:"max=5000"`
	Address     string   `json:"address" validate:"required,max=255"`
	City        string   `json:"city" validate:"required,max=100"`
	Phone       string   `json:"phone" validate:"omitempty,max=32"`
	Services    []string `json:"services" validate:"max=20,dive,min=2,max=40"`
}

// UpdateShopRequest holds shop profile edits
type UpdateShopRequest struct {
	Name        *string   `json:"name" validate:"omitempty,min=2,max=120"`
	Description *string   `json:"description" validate:"omitempty,max=5000"`
	Address     *string   `json:"address" validate:"omitempty,max=255"`
	City        *string   `json:"city" validate:"omitempty,max=100"`
	Phone       *string   `json:"phone" validate:"omitempty,max=32"`
	Services    *[]string `json:"services" validate:"omitempty,max=20,dive,min=2,max=40"`
}

// CreateBookingRequest represents an appointment request
type CreateBookingRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	Device      string    `json:"device" validate:"required,max=120"`
	Issue       string    `json:"issue" validate:"max=2000"`
}

// BookingStatusRequest moves a booking along its lifecycle
type BookingStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed declined cancelled completed"`
}

// ShopBookingsQuery filters a shop's bookings
type ShopBookingsQuery struct {
	Status string `form:"status" validate:"omitempty,oneof=pending confirmed declined cancelled completed"`
}

// CreateReviewRequest represents a shop rating
type CreateReviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

func (s *Server) listShops(c *gin.Context) {
	var query ListShopsQuery
	if !s.bindQuery(c, &query) {
		return
	}

	list, err := s.shops.List(c.Request.Context(), shops.Filter{
		City:   query.City,
		Query:  query.Query,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getShop(c *gin.Context) {
	shop, err := s.shops.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, shop)
}

func (s *Server) createShop(c *gin.Context) {
	var req CreateShopRequest
	if !s.bindJSON(c, &req) {
		return
	}

	shop, err := s.shops.Create(c.Request.Context(), currentIdentity(c).ID, shops.ShopParams{
		Name:        req.Name,
		Description: req.Description,
		Address:     req.Address,
		City:        req.City,
		Phone:       req.Phone,
		Services:    req.Services,
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, shop)
}

func (s *Server) updateShop(c *gin.Context) {
	var req UpdateShopRequest
	if !s.bindJSON(c, &req) {
		return
	}

	shop, err := s.shops.Update(c.Request.Context(), c.Param("id"), shops.ShopUpdate{
		Name:        req.Name,
		Description: req.Description,
		Address:     req.Address,
		City:        req.City,
		Phone:       req.Phone,
		Services:    req.Services,
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, shop)
}

func (s *Server) deleteShop(c *gin.Context) {
	if err := s.shops.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) createBooking(c *gin.Context) {
	var req CreateBookingRequest
	if !s.bindJSON(c, &req) {
		return
	}

	booking, err := s.shops.CreateBooking(c.Request.Context(), shops.BookingParams{
		ShopID:      c.Param("id"),
		CustomerID:  currentIdentity(c).ID,
		ScheduledAt: req.ScheduledAt,
		Device:      req.Device,
		Issue:       req.Issue,
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

func (s *Server) listMyBookings(c *gin.Context) {
	bookings, err := s.shops.ListCustomerBookings(c.Request.Context(), currentIdentity(c).ID)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, bookings)
}

func (s *Server) listShopBookings(c *gin.Context) {
	var query ShopBookingsQuery
	if !s.bindQuery(c, &query) {
		return
	}

	shop := loaded[models.RepairShop](c)
	bookings, err := s.shops.ListShopBookings(c.Request.Context(), shop.ID, query.Status)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, bookings)
}

func (s *Server) updateBookingStatus(c *gin.Context) {
	var req BookingStatusRequest
	if !s.bindJSON(c, &req) {
		return
	}

	booking, err := s.shops.UpdateBookingStatus(c.Request.Context(), currentIdentity(c).ID, c.Param("id"), req.Status)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// ReviewResponse is a review with its author's public profile
type ReviewResponse struct {
	models.Review
	Author *PublicProfile `json:"author,omitempty"`
}

func (s *Server) listReviews(c *gin.Context) {
	reviews, err := s.shops.ListReviews(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}

	resp := make([]ReviewResponse, 0, len(reviews))
	for _, review := range reviews {
		resp = append(resp, ReviewResponse{Review: review, Author: publicOwner(review.Author)})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) createReview(c *gin.Context) {
	var req CreateReviewRequest
	if !s.bindJSON(c, &req) {
		return
	}

	review, err := s.shops.CreateReview(c.Request.Context(), shops.ReviewParams{
		ShopID:   c.Param("id"),
		AuthorID: currentIdentity(c).ID,
		Rating:   req.Rating,
		Comment:  req.Comment,
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

func (s *Server) deleteReview(c *gin.Context) {
	if err := s.shops.DeleteReview(c.Request.Context(), c.Param("id")); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
