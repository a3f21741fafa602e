package api

import (
	"context"
	"log"
	"os"
	"strings"

	"wastenav/internal/auth"
	"wastenav/internal/config"
	"wastenav/internal/hub"
	"wastenav/internal/store"
)

type Server struct {
	Store     store.Store
	Hub       *hub.Hub
	Auth      *auth.Verifier
	Locations *LocationCache
	Cfg       config.Config
}

// NewServer creates a Server. If DATABASE_URL is unset, uses the in-memory
// store; if REDIS_URL is set, events are relayed across nodes.
func NewServer(cfg config.Config) (*Server, error) {
	var st store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		st = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		// Run migrations (dev helper)
		if os.Getenv("DB_MIGRATE") != "false" {
			_ = sp.MigrateDir("db/migrations")
		}
		st = sp
	}
	h := hub.New()
	if cfg.RedisURL != "" {
		relay, err := hub.NewRedisRelay(cfg.RedisURL)
		if err != nil {
			log.Printf("redis relay disabled: %v", err)
		} else {
			h.SetRelay(relay)
			go relay.Run(context.Background(), h)
		}
	}
	return &Server{
		Store:     st,
		Hub:       h,
		Auth:      auth.NewVerifierFromEnv(),
		Locations: NewLocationCache(),
		Cfg:       cfg,
	}, nil
}
