package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carparts/backend/internal/bootstrap"
	"carparts/backend/internal/config"
	"carparts/backend/internal/httpapi"
	"carparts/backend/internal/report"
	"carparts/backend/internal/service"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	backend, err := bootstrap.OpenRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("%v; refusing to start with in-memory fallback", err)
	}
	log.Printf("repository: %s", backend.Name)

	reportCache, closeCache := bootstrap.OpenReportCache(ctx, cfg)
	closers := []func() error{backend.Close, closeCache}

	reports := report.NewAggregator(reportCache, time.Duration(cfg.ReportCacheTTLSeconds)*time.Second, time.Local)
	svc := service.New(backend.Repo, reports)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.AdminSecretKey, backend.Repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("car parts backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.AdminSecretKey) < 16 {
		return fmt.Errorf("ADMIN_SECRET_KEY must be set and at least 16 characters")
	}
	if cfg.AdminSecretKey == cfg.AuthSecret {
		return fmt.Errorf("ADMIN_SECRET_KEY must differ from AUTH_SECRET")
	}
	return nil
}
