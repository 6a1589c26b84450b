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

	"github.com/calderahq/crm-auth-be/internal/api"
	"github.com/calderahq/crm-auth-be/internal/auth"
	"github.com/calderahq/crm-auth-be/internal/config"
	"github.com/calderahq/crm-auth-be/internal/database"
	"github.com/calderahq/crm-auth-be/internal/logger"
	"github.com/calderahq/crm-auth-be/internal/services"
	"github.com/calderahq/crm-auth-be/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.AppEnv)

	// Ensure the base directory for uploads exists
	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		log.Fatalf("Failed to create upload directory: %v", err)
	}

	// Set up database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to apply database migrations: %v", err)
	}

	// Set up the token blacklist: Redis when configured, otherwise the
	// in-process store with its janitor.
	var blacklist auth.Blacklist
	var janitor *auth.MemoryBlacklist
	if cfg.RedisAddr != "" {
		redisBlacklist, err := auth.NewRedisBlacklist(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisBlacklist.Close()
		blacklist = redisBlacklist
	} else {
		janitor = auth.NewMemoryBlacklist()
		go janitor.Run()
		blacklist = janitor
	}

	// Set up the blob store: S3 when a bucket is configured, otherwise disk.
	var blobs storage.BlobStore
	if cfg.S3Bucket != "" {
		blobs, err = storage.NewS3Store(context.Background(), storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			log.Fatalf("Failed to initialize S3 blob store: %v", err)
		}
	} else {
		blobs = storage.NewDiskStore(cfg.UploadDir)
	}

	// Set up services
	issuer := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL, blacklist)
	authService := services.NewAuthService(db, issuer, blobs)

	// Set up router
	router := api.NewRouter(authService, issuer)

	// Set up server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on port %d\n", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	if janitor != nil {
		janitor.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}
