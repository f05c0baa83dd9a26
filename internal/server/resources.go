package server

import (
	"github.com/gin-gonic/gin"

	"github.com/fixmart-dev/fixmart/internal/apperr"
	"github.com/fixmart-dev/fixmart/internal/authz"
	"github.com/fixmart-dev/fixmart/internal/identity"
)

// Resource loaders name who owns the target of an action. A missing record is
// reported as not found before any ownership decision is made.

func selfResource(_ *gin.Context, ident *identity.Identity) (authz.Resource, error) {
	return authz.Owned("user", ident.ID, ident.ID), nil
}

func (s *Server) loadProduct(c *gin.Context, _ *identity.Identity) (authz.Resource, error) {
	product, err := s.products.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		return authz.Resource{}, err
	}
	c.Set(ctxResource, product)
	return authz.Owned("product", product.ID, product.OwnerID), nil
}

func (s *Server) loadOfferAsSeller(c *gin.Context, _ *identity.Identity) (authz.Resource, error) {
	offer, err := s.transactions.GetOffer(c.Request.Context(), c.Param("id"))
	if err != nil {
		return authz.Resource{}, err
	}
	c.Set(ctxResource, offer)
	return authz.Owned("offer", offer.ID, offer.SellerID), nil
}

func (s *Server) loadOfferAsBuyer(c *gin.Context, _ *identity.Identity) (authz.Resource, error) {
	offer, err := s.transactions.GetOffer(c.Request.Context(), c.Param("id"))
	if err != nil {
		return authz.Resource{}, err
	}
	c.Set(ctxResource, offer)
	return authz.Owned("offer", offer.ID, offer.BuyerID), nil
}

func (s *Server) loadShop(c *gin.Context, _ *identity.Identity) (authz.Resource, error) {
	shop, err := s.shops.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		return authz.Resource{}, err
	}
	c.Set(ctxResource, shop)
	return authz.Owned("shop", shop.ID, shop.OwnerID), nil
}

// Both the customer and the shop owner take part in a booking
func (s *Server) loadBooking(c *gin.Context, _ *identity.Identity) (authz.Resource, error) {
	booking, err := s.shops.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		return authz.Resource{}, err
	}
	c.Set(ctxResource, booking)
	return authz.Owned("booking", booking.ID, booking.CustomerID, booking.Shop.OwnerID), nil
}

func (s *Server) loadReview(c *gin.Context, _ *identity.Identity) (authz.Resource, error) {
	review, err := s.shops.GetReview(c.Request.Context(), c.Param("id"))
	if err != nil {
		return authz.Resource{}, err
	}
	c.Set(ctxResource, review)
	return authz.Owned("review", review.ID, review.AuthorID), nil
}

func (s *Server) loadTransaction(c *gin.Context, _ *identity.Identity) (authz.Resource, error) {
	txn, err := s.transactions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		return authz.Resource{}, err
	}
	c.Set(ctxResource, txn)
	return authz.Owned("transaction", txn.ID, txn.BuyerID, txn.SellerID), nil
}

func (s *Server) loadTransactionAsBuyer(c *gin.Context, _ *identity.Identity) (authz.Resource, error) {
	txn, err := s.transactions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		return authz.Resource{}, err
	}
	c.Set(ctxResource, txn)
	return authz.Owned("transaction", txn.ID, txn.BuyerID), nil
}

// Refunds are resolved by the seller of the refunded transaction
func (s *Server) loadRefund(c *gin.Context, _ *identity.Identity) (authz.Resource, error) {
	refund, err := s.transactions.GetRefund(c.Request.Context(), c.Param("id"))
	if err != nil {
		return authz.Resource{}, err
	}
	txn, err := s.transactions.Get(c.Request.Context(), refund.TransactionID)
	if err != nil {
		return authz.Resource{}, apperr.Unexpected(err)
	}
	c.Set(ctxResource, refund)
	return authz.Owned("refund", refund.ID, txn.SellerID), nil
}

func (s *Server) loadConversation(c *gin.Context, _ *identity.Identity) (authz.Resource, error) {
	conversation, err := s.messaging.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		return authz.Resource{}, err
	}
	c.Set(ctxResource, conversation)
	return authz.Owned("conversation", conversation.ID, conversation.Participants()...), nil
}

func (s *Server) loadNotification(c *gin.Context, _ *identity.Identity) (authz.Resource, error) {
	notification, err := s.messaging.GetNotification(c.Request.Context(), c.Param("id"))
	if err != nil {
		return authz.Resource{}, err
	}
	c.Set(ctxResource, notification)
	return authz.Owned("notification", notification.ID, notification.UserID), nil
}
