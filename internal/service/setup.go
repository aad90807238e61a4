package service

import (
	"fmt"
	"time"

	"tg-letthemknow/internal/config"
	"tg-letthemknow/internal/models"
	"tg-letthemknow/internal/storage"
)

var (
	memberCache          = models.NewMemberCache()
	memberRepository     *storage.MemberRepository
	pendingMsgRepository *storage.PendingMsgRepository
	globalConfig         *config.Config

	// Sessions tracks the per-chat compose sessions
	Sessions *models.SessionManager
)

// Initialize initializes the service with configuration
func Initialize(cfg *config.Config) {
	globalConfig = cfg
	Sessions = models.NewSessionManager(time.Duration(cfg.Compose.TimeoutSeconds) * time.Second)
}

// InitRepositories creates the repositories and migrates their tables.
// Unlike a bot that merely caches in the database, this one has nothing to
// do without it, so a missing connection is an error rather than a no-op.
func InitRepositories() error {
	if storage.DB == nil {
		return fmt.Errorf("database connection is not initialized")
	}

	memberRepository = storage.NewMemberRepository(storage.DB)
	if err := memberRepository.MigrateTable(); err != nil {
		return fmt.Errorf("error migrating ChatMember table: %w", err)
	}

	pendingMsgRepository = storage.NewPendingMsgRepository(storage.DB)
	if err := pendingMsgRepository.MigrateTable(); err != nil {
		return fmt.Errorf("error migrating PendingMessage table: %w", err)
	}

	return nil
}
