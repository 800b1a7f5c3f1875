package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"spc-alerts-go/internal/handlers"
	"spc-alerts-go/internal/push"
	"spc-alerts-go/internal/store"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	// Redis Configuration
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDBStr := os.Getenv("REDIS_DB")
	redisDB := 0
	if redisDBStr != "" {
		if db, err := strconv.Atoi(redisDBStr); err == nil {
			redisDB = db
		}
	}

	// Initialize Redis store (for incidents)
	redisStore := store.NewRedisStore(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// PostgreSQL Configuration
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	// Initialize PostgreSQL store (for push subscriptions)
	pgStore, err := store.NewPostgresStore(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}

	// Run database migrations
	ctx := context.Background()
	if err := pgStore.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	// VAPID keys for push-message signing. Check env, or generate them.
	vapidPrivateKey := os.Getenv("VAPID_PRIVATE_KEY")
	vapidPublicKey := os.Getenv("VAPID_PUBLIC_KEY")
	if vapidPrivateKey == "" || vapidPublicKey == "" {
		log.Println("VAPID keys not found in environment. Generating new keys...")
		privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			log.Fatal("Failed to generate VAPID keys:", err)
		}
		vapidPrivateKey = privateKey
		vapidPublicKey = publicKey
		log.Printf("Generated VAPID Keys:\nVAPID_PRIVATE_KEY=%s\nVAPID_PUBLIC_KEY=%s\n(Add these to your .env file to persist them)", privateKey, publicKey)
	}

	subscriber := os.Getenv("VAPID_SUBSCRIBER")
	if subscriber == "" {
		subscriber = "admin@example.com"
	}

	pushService := push.NewService(pgStore, push.Config{
		VAPIDPublicKey:  vapidPublicKey,
		VAPIDPrivateKey: vapidPrivateKey,
		Subscriber:      subscriber,
	})

	// Initialize handlers with both stores
	h := handlers.NewHandler(redisStore, pgStore, pushService)

	// Incident routes
	http.HandleFunc("/webhook", h.WebhookHandler)
	http.HandleFunc("/events", h.SSEHandler)
	http.HandleFunc("/api/incidents", h.IncidentsHandler)

	// Push routes
	http.HandleFunc("/api/push/dispatch", h.DispatchHandler)
	http.HandleFunc("/api/push/vapid-key", h.GetVAPIDKeyHandler)
	http.HandleFunc("/api/push/subscribe", h.SubscribePushHandler)
	http.HandleFunc("/api/push/unsubscribe", h.UnsubscribePushHandler)

	// Ops routes
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/healthz", h.HealthHandler)

	// Serve static files (PWA assets)
	fs := http.FileServer(http.Dir("web/static"))
	http.Handle("/static/", http.StripPrefix("/static/", fs))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Println("Listening on :" + port)
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}
