// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"errors"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fixmart-dev/fixmart/internal/apperr"
	"github.com/fixmart-dev/fixmart/internal/identity"
	"github.com/fixmart-dev/fixmart/internal/models"
)

// NewDB opens a migrated, private in-memory database. A single connection
// keeps every query on the same in-memory instance.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// SeedUser inserts a profile row matching ident and returns it
func SeedUser(t *testing.T, db *gorm.DB, ident *identity.Identity) *models.User {
	t.Helper()

	userType := ident.Type
	if userType == "" {
		userType = identity.TypeIndividual
	}

	user := &models.User{
		BaseModel:   models.BaseModel{ID: ident.ID},
		Email:       ident.Email,
		DisplayName: ident.ID,
		UserType:    string(userType),
		Verified:    ident.Verified,
		IsAdmin:     ident.IsAdmin,
	}
	if user.Email == "" {
		user.Email = ident.ID + "@example.com"
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to seed user %s: %v", ident.ID, err)
	}
	return user
}

// Enqueuer records tasks instead of sending them to Redis
type Enqueuer struct {
	mu    sync.Mutex
	Tasks []*asynq.Task
	Err   error
}

func (e *Enqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Err != nil {
		return nil, e.Err
	}
	e.Tasks = append(e.Tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Payload: task.Payload()}, nil
}

// Types returns the type names of the recorded tasks
func (e *Enqueuer) Types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	types := make([]string, 0, len(e.Tasks))
	for _, task := range e.Tasks {
		types = append(types, task.Type())
	}
	return types
}

// RequireKind fails the test unless err is an *apperr.Error of the given kind
func RequireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
	if appErr.Kind != kind {
		t.Fatalf("expected %s error, got %s: %v", kind, appErr.Kind, err)
	}
}
