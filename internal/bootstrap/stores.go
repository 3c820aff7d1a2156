package bootstrap

import (
	"github.com/auralog/voicejournal/internal/journal"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideJournalStore(db *gorm.DB) *journal.Store {
	return journal.NewStore(db)
}

func ProvideLiveStore(redisClient *redis.Client) *journal.LiveStore {
	return journal.NewLiveStore(redisClient)
}

func RunMigrations(store *journal.Store) error {
	return store.Migrate()
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideJournalStore,
		ProvideLiveStore,
	),
	fx.Invoke(RunMigrations),
)
