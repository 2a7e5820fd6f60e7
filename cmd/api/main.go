package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"harbor/api/internal/app"
	"harbor/api/internal/authpw"
	"harbor/api/internal/blob"
	"harbor/api/internal/config"
	"harbor/api/internal/email"
	"harbor/api/internal/export"
	"harbor/api/internal/history"
	"harbor/api/internal/oauth"
	"harbor/api/internal/search"
	"harbor/api/internal/security"
	"harbor/api/internal/session"
	"harbor/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		log.Fatalf("failed to create history dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	historyService := history.New(cfg.HistoryDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.ReindexAllFromPG(ctx)

	var sessions app.SessionStore = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
	}

	lockout := security.NewLockout(dataStore, cfg.LockoutThreshold, cfg.LockoutWindow)
	authService := authpw.NewService(dataStore, lockout)

	var oauthService *oauth.Service
	if cfg.GoogleClientID != "" || cfg.GithubClientID != "" {
		oauthService = oauth.NewService(dataStore, lockout, cfg.JWTSecret)
		if cfg.GoogleClientID != "" {
			oauthService.RegisterGoogle(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.OAuthRedirectBase)
		}
		if cfg.GithubClientID != "" {
			oauthService.RegisterGitHub(cfg.GithubClientID, cfg.GithubClientSecret, cfg.OAuthRedirectBase)
		}
		log.Printf("OAuth providers enabled: %s", strings.Join(oauthService.Providers(), ", "))
	}

	var emailService *email.Service
	if cfg.SMTPHost != "" {
		emailService = email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})
	}

	var blobService *blob.Service
	if cfg.MinioEndpoint != "" {
		blobService, err = blob.NewService(ctx, blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
	} else {
		log.Printf("MINIO_ENDPOINT not set; document uploads disabled")
	}

	service := app.New(cfg, app.Deps{
		Store:    dataStore,
		Sessions: sessions,
		AuthPW:   authService,
		OAuth:    oauthService,
		Lockout:  lockout,
		Email:    emailService,
		Blob:     blobService,
		Search:   searchService,
		History:  historyService,
		Export:   export.NewService(dataStore),
	})

	// Hourly sweep for due-task reminder emails.
	reminderCtx, stopReminders := context.WithCancel(ctx)
	defer stopReminders()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-reminderCtx.Done():
				return
			case <-ticker.C:
				sent, err := service.SendDueTaskReminders(reminderCtx, time.Now().Add(24*time.Hour))
				if err != nil {
					log.Printf("task reminders: %v", err)
				} else if sent > 0 {
					log.Printf("task reminders: sent %d", sent)
				}
			}
		}
	}()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Harbor API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
