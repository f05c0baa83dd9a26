package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fixmart-dev/fixmart/internal/models"
	"github.com/fixmart-dev/fixmart/internal/transactions"
)

// CreateOfferRequest proposes a price for a product
type CreateOfferRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Message     string `json:"message" validate:"max=1000"`
}

// ListOffersQuery filters the caller's offers
type ListOffersQuery struct {
	Role   string `form:"role" validate:"omitempty,oneof=buyer seller"`
	Status string `form:"status" validate:"omitempty,oneof=pending accepted rejected withdrawn expired"`
}

// PurchaseRequest buys a product at its list price
type PurchaseRequest struct {
	ProductID string `json:"product_id" validate:"required,max=36"`
}

// ListTransactionsQuery filters the caller's transactions
type ListTransactionsQuery struct {
	Role string `form:"role" validate:"omitempty,oneof=buyer seller"`
}

// RefundRequest asks the seller to reverse a completed transaction
type RefundRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Reason      string `json:"reason" validate:"required,min=5,max=2000"`
}

func (s *Server) createOffer(c *gin.Context) {
	var req CreateOfferRequest
	if !s.bindJSON(c, &req) {
		return
	}

	offer, err := s.transactions.CreateOffer(c.Request.Context(), transactions.OfferParams{
		ProductID:   c.Param("id"),
		BuyerID:     currentIdentity(c).ID,
		AmountCents: req.AmountCents,
		Message:     req.Message,
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

func (s *Server) listOffers(c *gin.Context) {
	var query ListOffersQuery
	if !s.bindQuery(c, &query) {
		return
	}

	offers, err := s.transactions.ListOffers(c.Request.Context(), currentIdentity(c).ID, query.Role, query.Status)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, offers)
}

func (s *Server) acceptOffer(c *gin.Context) {
	txn, err := s.transactions.AcceptOffer(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

func (s *Server) rejectOffer(c *gin.Context) {
	offer, err := s.transactions.RejectOffer(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

func (s *Server) withdrawOffer(c *gin.Context) {
	offer, err := s.transactions.WithdrawOffer(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

func (s *Server) purchase(c *gin.Context) {
	var req PurchaseRequest
	if !s.bindJSON(c, &req) {
		return
	}

	txn, err := s.transactions.Purchase(c.Request.Context(), currentIdentity(c).ID, req.ProductID)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

func (s *Server) listTransactions(c *gin.Context) {
	var query ListTransactionsQuery
	if !s.bindQuery(c, &query) {
		return
	}

	txns, err := s.transactions.List(c.Request.Context(), currentIdentity(c).ID, query.Role)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, txns)
}

func (s *Server) getTransaction(c *gin.Context) {
	c.JSON(http.StatusOK, loaded[models.Transaction](c))
}

func (s *Server) completeTransaction(c *gin.Context) {
	txn, err := s.transactions.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (s *Server) cancelTransaction(c *gin.Context) {
	txn, err := s.transactions.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (s *Server) requestRefund(c *gin.Context) {
	var req RefundRequest
	if !s.bindJSON(c, &req) {
		return
	}

	refund, err := s.transactions.RequestRefund(c.Request.Context(), transactions.RefundParams{
		TransactionID: c.Param("id"),
		RequesterID:   currentIdentity(c).ID,
		AmountCents:   req.AmountCents,
		Reason:        req.Reason,
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, refund)
}

func (s *Server) approveRefund(c *gin.Context) {
	s.resolveRefund(c, true)
}

func (s *Server) rejectRefund(c *gin.Context) {
	s.resolveRefund(c, false)
}

func (s *Server) resolveRefund(c *gin.Context, approve bool) {
	refund, err := s.transactions.ResolveRefund(c.Request.Context(), c.Param("id"), currentIdentity(c).ID, approve)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, refund)
}
