package orgchart

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config holds the configuration for the org chart service.
type Config struct {
	DB          *gorm.DB
	RedisClient *redis.Client // optional; used by the outbox dedupe store
	Roles       RoleService
	Users       UserService
	Logger      *zap.Logger

	AutoMigrate        bool
	EnableAuditLogging bool
	CachePrefix        string
	OutboxMaxRetries   int
}

// Service is the entry point for department and employee operations.
type Service struct {
	db           *gorm.DB
	redis        *redis.Client
	roles        RoleService
	users        UserService
	log          *zap.SugaredLogger
	auditEnabled bool
	cachePrefix  string
	maxRetries   int
	now          func() time.Time
}

// NewService validates cfg and, when requested, migrates the schema.
func NewService(cfg Config) (*Service, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Roles == nil || cfg.Users == nil {
		return nil, fmt.Errorf("role and user services are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "orgchart:"
	}
	if cfg.OutboxMaxRetries <= 0 {
		cfg.OutboxMaxRetries = 5
	}

	if cfg.AutoMigrate {
		if err := cfg.DB.AutoMigrate(AllModels()...); err != nil {
			return nil, fmt.Errorf("failed to auto-migrate: %w", err)
		}
	}

	return &Service{
		db:           cfg.DB,
		redis:        cfg.RedisClient,
		roles:        cfg.Roles,
		users:        cfg.Users,
		log:          cfg.Logger.Sugar(),
		auditEnabled: cfg.EnableAuditLogging,
		cachePrefix:  cfg.CachePrefix,
		maxRetries:   cfg.OutboxMaxRetries,
		now:          time.Now,
	}, nil
}

// Ping checks the database connection.
func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Service) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}
