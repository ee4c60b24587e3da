package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"skillflow.org/internal/audit"
	"skillflow.org/internal/auth"
	"skillflow.org/internal/httpapi"
	"skillflow.org/internal/obs"
	"skillflow.org/internal/rbac"
	"skillflow.org/internal/store/mem"
	"skillflow.org/internal/store/pg"
	"skillflow.org/internal/vault"
)

var version = "0.3.0"

func main() {
	obs.Init()

	// The built-in role and permission tables must be coherent before the
	// service accepts traffic.
	if report := rbac.Validate(); !report.OK {
		for _, issue := range report.Issues {
			log.Printf("rbac table issue: %s: %s", issue.Code, issue.Message)
		}
		log.Fatal("rbac tables failed validation")
	}

	environment := getenv("SKILLFLOW_ENV", "development")

	v, err := vault.FromEnv(environment)
	if err != nil {
		log.Fatalf("vault: %v", err)
	}

	var (
		store    auth.Store
		auditDst audit.Store
		probe    httpapi.ReadyProbe
		closeDB  func() error
	)
	if dsn := os.Getenv("SKILLFLOW_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			cancel()
			log.Fatalf("ensure schema: %v", err)
		}
		cancel()
		store = pgStore
		auditDst = pgStore
		probe = httpapi.ReadyProbe{Ping: pgStore.Ping}
		closeDB = pgStore.Close
	} else {
		memStore := mem.New()
		store = memStore
		auditDst = memStore
	}

	auditLog, err := audit.New(auditDst)
	if err != nil {
		log.Fatalf("audit: %v", err)
	}

	opts := []auth.ServiceOption{}
	if roles := os.Getenv("SKILLFLOW_ENFORCE_MFA_ROLES"); roles != "" {
		opts = append(opts, auth.WithEnforcedMFARoles(strings.Split(roles, ",")))
	}
	if raw := os.Getenv("SKILLFLOW_TOTP_STEP"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			opts = append(opts, auth.WithTOTPStep(time.Duration(secs)*time.Second))
		}
	}
	if raw := os.Getenv("SKILLFLOW_TOTP_WINDOW"); raw != "" {
		if window, err := strconv.Atoi(raw); err == nil && window >= 0 {
			opts = append(opts, auth.WithTOTPWindow(window))
		}
	}

	svc, err := auth.NewService(store, auditLog, auth.NewHasher(0), v, opts...)
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	api := httpapi.New(svc, auditLog, probe, version)

	srv := &http.Server{
		Addr:              getenv("SKILLFLOW_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting skillflow-identity %s on %s (env=%s)", version, srv.Addr, environment)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if closeDB != nil {
		_ = closeDB()
	}
	log.Println("Stopped")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
