package server

import (
	"context"
	"net/http"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/fixmart-dev/fixmart/internal/config"
	"github.com/fixmart-dev/fixmart/internal/models"
	"github.com/fixmart-dev/fixmart/internal/sysinfo"
)

var startedAt = time.Now()

// SystemStatsResponse summarizes the marketplace for admins
type SystemStatsResponse struct {
	Version     string            `json:"version"`
	Uptime      string            `json:"uptime"`
	Goroutines  int               `json:"goroutines"`
	Marketplace MarketplaceCounts `json:"marketplace"`
	Host        sysinfo.Metrics   `json:"host"`
}

// MarketplaceCounts holds row counts of the main records
type MarketplaceCounts struct {
	Users               int64 `json:"users"`
	ActiveProducts      int64 `json:"active_products"`
	Shops               int64 `json:"shops"`
	PendingBookings     int64 `json:"pending_bookings"`
	PendingTransactions int64 `json:"pending_transactions"`
	OpenRefunds         int64 `json:"open_refunds"`
}

func (s *Server) getSystemStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	counts, err := s.marketplaceCounts(ctx)
	if err != nil {
		s.abort(c, err)
		return
	}

	host, err := sysinfo.GetMetrics(ctx, s.dataDir())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Host metrics are incomplete")
	}

	c.JSON(http.StatusOK, SystemStatsResponse{
		Version:     s.version,
		Uptime:      time.Since(startedAt).Round(time.Second).String(),
		Goroutines:  runtime.NumGoroutine(),
		Marketplace: counts,
		Host:        host,
	})
}

// dataDir is the directory holding the sqlite database file, or the working
// directory when the database lives elsewhere
func (s *Server) dataDir() string {
	url := s.config.Database.URL
	if s.config.Database.Driver != config.DriverSQLite || url == "" || strings.Contains(url, ":memory:") {
		return "."
	}
	return filepath.Dir(strings.TrimPrefix(strings.SplitN(url, "?", 2)[0], "file:"))
}

func (s *Server) marketplaceCounts(ctx context.Context) (MarketplaceCounts, error) {
	var counts MarketplaceCounts
	db := s.db.WithContext(ctx)

	queries := []struct {
		model any
		where string
		args  []any
		dest  *int64
	}{
		{&models.User{}, "", nil, &counts.Users},
		{&models.Product{}, "status = ?", []any{models.ProductActive}, &counts.ActiveProducts},
		{&models.RepairShop{}, "", nil, &counts.Shops},
		{&models.Booking{}, "status = ?", []any{models.BookingPending}, &counts.PendingBookings},
		{&models.Transaction{}, "status = ?", []any{models.TransactionPending}, &counts.PendingTransactions},
		{&models.Refund{}, "status = ?", []any{models.RefundRequested}, &counts.OpenRefunds},
	}

	var g errgroup.Group
	for _, q := range queries {
		g.Go(func() error {
			query := db.Model(q.model)
			if q.where != "" {
				query = query.Where(q.where, q.args...)
			}
			return query.Count(q.dest).Error
		})
	}
	if err := g.Wait(); err != nil {
		return MarketplaceCounts{}, err
	}
	return counts, nil
}
