package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"wastenav/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":             s.Cfg.Port,
			"AUTH_MODE":        os.Getenv("AUTH_MODE"),
			"WS_RATE_RPS":      s.Cfg.WS.RateRPS,
			"WS_RATE_BURST":    s.Cfg.WS.RateBurst,
			"CRON_ENABLED":     s.Cfg.Cron.Enabled,
			"HAS_DATABASE_URL": s.Cfg.DatabaseURL != "",
			"HAS_REDIS_URL":    s.Cfg.RedisURL != "",
		},
		"connections": s.Hub.Count(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
