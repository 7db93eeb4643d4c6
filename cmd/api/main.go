package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"seatgrid.io/internal/auth"
	"seatgrid.io/internal/httpapi"
	"seatgrid.io/internal/impersonation"
	"seatgrid.io/internal/notify"
	"seatgrid.io/internal/obs"
	"seatgrid.io/internal/store/pg"
	"seatgrid.io/internal/stream"
	"seatgrid.io/internal/tenant"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

type config struct {
	addr            string
	grpcAddr        string
	dsn             string
	authSecret      string
	csrfSecret      string
	baseDomain      string
	webhookURL      string
	maxMinutes      int
	allowConcurrent bool
	rateBurst       int
	ratePerSec      int
}

func loadConfig() config {
	return config{
		addr:            envOr("SEATGRID_ADDR", ":8080"),
		grpcAddr:        os.Getenv("SEATGRID_GRPC_ADDR"),
		dsn:             os.Getenv("SEATGRID_PG_DSN"),
		authSecret:      os.Getenv("SEATGRID_AUTH_SECRET"),
		csrfSecret:      os.Getenv("SEATGRID_CSRF_SECRET"),
		baseDomain:      envOr("SEATGRID_BASE_DOMAIN", "seatgrid.io"),
		webhookURL:      os.Getenv("SEATGRID_WEBHOOK_URL"),
		maxMinutes:      envInt("SEATGRID_MAX_SESSION_MINUTES", 480),
		allowConcurrent: os.Getenv("SEATGRID_ALLOW_CONCURRENT_SESSIONS") == "true",
		rateBurst:       envInt("SEATGRID_RATE_BURST", 20),
		ratePerSec:      envInt("SEATGRID_RATE_PER_SEC", 10),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return v
}

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg := loadConfig()
	if cfg.authSecret == "" {
		log.Fatal("SEATGRID_AUTH_SECRET is required")
	}

	verifier, err := auth.NewVerifier(cfg.authSecret)
	if err != nil {
		log.Fatalf("auth verifier: %v", err)
	}

	var (
		sessionStore impersonation.SessionStore
		auditStore   impersonation.AuditStore
		tenantStore  tenant.Store
		probe        httpapi.ReadyProbe
		closeStore   func() error
	)
	if cfg.dsn != "" {
		store, err := pg.Open(cfg.dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		sessionStore = store.Sessions()
		auditStore = store.Audit()
		tenantStore = store.Tenants()
		probe = httpapi.ReadyProbe{DB: store.DB()}
		closeStore = store.Close
	} else {
		log.Println("SEATGRID_PG_DSN not set, using in-memory stores with demo tenants")
		mem := impersonation.NewInMemoryStore()
		sessionStore = mem
		auditStore = mem
		tenantStore = tenant.NewInMemoryStore(
			tenant.Tenant{ID: "tenant-bluefin", Name: "Bluefin Bistro", Subdomain: "bluefin", Status: tenant.StatusActive, CreatedAt: time.Now().UTC()},
			tenant.Tenant{ID: "tenant-harbor", Name: "Harbor House", Subdomain: "harborhouse", Status: tenant.StatusActive, CreatedAt: time.Now().UTC()},
		)
	}

	directory, err := tenant.NewDirectory(tenantStore, cfg.baseDomain)
	if err != nil {
		log.Fatalf("tenant directory: %v", err)
	}

	auditStream := stream.New()

	opts := []impersonation.Option{
		impersonation.WithTenantDirectory(directory),
		impersonation.WithMaxDuration(time.Duration(cfg.maxMinutes) * time.Minute),
		impersonation.WithConcurrentSessions(cfg.allowConcurrent),
		impersonation.WithAlerter(notify.LogAlerter{}),
		impersonation.WithAuditSink(auditStream.Publish),
	}
	if cfg.webhookURL != "" {
		webhook, err := notify.NewWebhook(cfg.webhookURL, nil)
		if err != nil {
			log.Fatalf("webhook: %v", err)
		}
		opts = append(opts, impersonation.WithNotifier(webhook, true, true))
	}

	svc, err := impersonation.NewService(sessionStore, auditStore, opts...)
	if err != nil {
		log.Fatalf("impersonation service: %v", err)
	}

	api := httpapi.New(probe, version, svc, verifier, directory, auditStream, cfg.csrfSecret)
	api.SetRateLimit(cfg.rateBurst, cfg.ratePerSec)
	api.SetRequireCSRF(os.Getenv("SEATGRID_REQUIRE_CSRF") == "true")
	srv := &http.Server{
		Addr:              cfg.addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting seatgrid-api %s on %s", version, srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.grpcAddr != "" {
		lis, err := net.Listen("tcp", cfg.grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		httpapi.NewHealthServer(probe).RegisterGRPC(grpcSrv)
		log.Printf("gRPC health on %s", cfg.grpcAddr)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if closeStore != nil {
		_ = closeStore()
	}
	log.Println("Stopped")
}
