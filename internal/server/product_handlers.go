package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fixmart-dev/fixmart/internal/apperr"
	"github.com/fixmart-dev/fixmart/internal/models"
	"github.com/fixmart-dev/fixmart/internal/products"
)

// ListProductsQuery filters the product catalogue
type ListProductsQuery struct {
	Category string `form:"category" validate:"omitempty,max=64"`
	OwnerID  string `form:"owner_id" validate:"omitempty,max=36"`
	Status   string `form:"status" validate:"omitempty,oneof=active reserved sold archived"`
	Query    string `form:"q" validate:"omitempty,max=100"`
	Limit    int    `form:"limit" validate:"omitempty,min=1,max=100"`
	Offset   int    `form:"offset" validate:"omitempty,min=0"`
}

// CreateProductRequest represents a new listing
type CreateProductRequest struct {
	Title       string `json:"title" validate:"required,min=3,max=120"`
	Description string `json:"description" validate:"max=5000"`
	PriceCents  int64  `json:"price_cents" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"omitempty,currency"`
	Condition   string `json:"condition" validate:"required,oneof=new like_new good fair for_parts"`
	Category    string `json:"category" validate:"omitempty,max=64"`
}

// UpdateProductRequest holds listing edits
type UpdateProductRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=3,max=120"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
	PriceCents  *int64  `json:"price_cents" validate:"omitempty,gt=0"`
	Condition   *string `json:"condition" validate:"omitempty,oneof=new like_new good fair for_parts"`
	Category    *string `json:"category" validate:"omitempty,max=64"`
	Status      *string `json:"status" validate:"omitempty,oneof=active archived"`
}

// ProductResponse is a listing with its seller's public profile
type ProductResponse struct {
	*models.Product
	Owner *PublicProfile `json:"owner,omitempty"`
}

func (s *Server) listProducts(c *gin.Context) {
	var query ListProductsQuery
	if !s.bindQuery(c, &query) {
		return
	}

	list, err := s.products.List(c.Request.Context(), products.Filter{
		Category: query.Category,
		OwnerID:  query.OwnerID,
		Status:   query.Status,
		Query:    query.Query,
		Limit:    query.Limit,
		Offset:   query.Offset,
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getProduct(c *gin.Context) {
	product, err := s.products.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, ProductResponse{Product: product, Owner: publicOwner(product.Owner)})
}

func (s *Server) createProduct(c *gin.Context) {
	var req CreateProductRequest
	if !s.bindJSON(c, &req) {
		return
	}

	product, err := s.products.Create(c.Request.Context(), products.CreateParams{
		OwnerID:     currentIdentity(c).ID,
		Title:       req.Title,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Currency:    req.Currency,
		Condition:   req.Condition,
		Category:    req.Category,
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (s *Server) updateProduct(c *gin.Context) {
	var req UpdateProductRequest
	if !s.bindJSON(c, &req) {
		return
	}

	product, err := s.products.Update(c.Request.Context(), c.Param("id"), products.UpdateParams{
		Title:       req.Title,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Condition:   req.Condition,
		Category:    req.Category,
		Status:      req.Status,
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (s *Server) deleteProduct(c *gin.Context) {
	if err := s.products.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) uploadProductImage(c *gin.Context) {
	product := loaded[models.Product](c)

	fileHeader, err := c.FormFile("image")
	if err != nil {
		s.abort(c, apperr.Invalid("Multipart field \"image\" is required").WithCause(err))
		return
	}
	if fileHeader.Size > s.config.Storage.MaxUploadBytes {
		s.abort(c, apperr.Invalid("Image exceeds the upload size limit"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		s.abort(c, apperr.Unexpected(err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.config.Storage.MaxUploadBytes+1))
	if err != nil {
		s.abort(c, apperr.Unexpected(err))
		return
	}

	image, err := s.products.AddImage(c.Request.Context(), product.ID, data)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, image)
}

func (s *Server) deleteProductImage(c *gin.Context) {
	if err := s.products.RemoveImage(c.Request.Context(), c.Param("id"), c.Param("imageId")); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
