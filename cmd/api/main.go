package main

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wastenav/internal/api"
	"wastenav/internal/config"
	"wastenav/internal/cron"
	"wastenav/internal/metrics"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	srvDeps, err := api.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	metrics.RegisterDefault()

	mux := http.NewServeMux()

	// Real-time layer
	mux.HandleFunc("/ws", srvDeps.WSHandler)

	// Vehicles and live positions
	mux.HandleFunc("/v1/vehicles", srvDeps.VehiclesHandler)
	mux.HandleFunc("/v1/vehicles/locations", srvDeps.VehiclesHandler)
	mux.HandleFunc("/v1/vehicles/", srvDeps.VehicleByIDHandler)

	// Collection schedules
	mux.HandleFunc("/v1/schedules", srvDeps.SchedulesHandler)
	mux.HandleFunc("/v1/schedules/today", srvDeps.SchedulesHandler)
	mux.HandleFunc("/v1/schedules/", srvDeps.ScheduleByIDHandler)

	// Reports
	mux.HandleFunc("/v1/reports", srvDeps.ReportsHandler)
	mux.HandleFunc("/v1/reports/", srvDeps.ReportByIDHandler)

	// Messaging
	mux.HandleFunc("/v1/messages", srvDeps.MessagesHandler)
	mux.HandleFunc("/v1/messages/unread", srvDeps.MessagesHandler)

	// Emergency alerts
	mux.HandleFunc("/v1/alerts/emergency", srvDeps.AlertsHandler)

	// Users
	mux.HandleFunc("/v1/users", srvDeps.UsersHandler)

	// Health & observability
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
	mux.HandleFunc("/debug", srvDeps.DebugJSON)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	addr := ":" + cfg.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Scheduled producers
	var sched *cron.Scheduler
	if cfg.Cron.Enabled {
		sched = cron.NewScheduler()
		cron.NewProducers(srvDeps.Store, srvDeps.Hub).Start(sched, cfg)
		log.Printf("scheduled producers started")
	}

	go func() {
		log.Printf("API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Printf("shutting down")
	if sched != nil {
		sched.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, rec.status, dur)
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := r.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, errors.New("hijack not supported")
}
