package handler

import (
	"github.com/stagepress/internal/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TokenValidator resolves an unsubscribe token to its email.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// Options bundles the collaborators a handler set needs.
type Options struct {
	Staging     *service.StagingService
	Publisher   *service.PublishService
	Subscribers *service.SubscriberService
	Tokens      TokenValidator
	Images      *service.ImageStore
	Logger      *zap.Logger
}

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db          *gorm.DB
	staging     *service.StagingService
	publisher   *service.PublishService
	subscribers *service.SubscriberService
	tokens      TokenValidator
	images      *service.ImageStore
	logger      *zap.Logger
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		db:          gdb,
		staging:     opts.Staging,
		publisher:   opts.Publisher,
		subscribers: opts.Subscribers,
		tokens:      opts.Tokens,
		images:      opts.Images,
		logger:      logger,
	}
}

// DB exposes the underlying gorm instance.
func (a *API) DB() *gorm.DB {
	return a.db
}
