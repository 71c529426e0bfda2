package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eternal-audio/eternal-gate/internal/api"
	"github.com/eternal-audio/eternal-gate/internal/config"
	"github.com/eternal-audio/eternal-gate/internal/gate"
	"github.com/eternal-audio/eternal-gate/internal/store"
	"github.com/eternal-audio/eternal-gate/internal/stripe"
	"github.com/eternal-audio/eternal-gate/internal/vault"
	"github.com/eternal-audio/eternal-gate/internal/webhook"
)

func main() {
	fmt.Println("Starting Eternal Gate Daemon...")

	cfgPath := os.Getenv("ETERNAL_CONFIG")
	if cfgPath == "" {
		cfgPath = "./config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 1. Record store: Redis when configured, embedded otherwise.
	var records gate.RecordStore
	var embedded *store.MemStore

	if cfg.RedisURL != "" {
		client, err := store.Connect(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		records = store.NewRedisStore(client)
		fmt.Println("Record store: redis")
	} else {
		persister, err := store.NewPersistence(cfg.DataDir, cfg.VaultKey)
		if err != nil {
			log.Fatalf("Failed to initialize persistence: %v", err)
		}
		initial, err := persister.LoadAll()
		if err != nil {
			log.Printf("Warning: could not load existing records: %v", err)
		}
		embedded = store.NewMemStore(initial, persister)
		records = embedded
		fmt.Printf("Record store: embedded (%d records loaded)\n", len(initial))
		if cfg.VaultKey != nil {
			fmt.Println("At-rest encryption enabled.")
		}
	}

	// 2. Payment authority and the gate itself.
	authority := stripe.NewClient(cfg.StripeSecretKey, cfg.StripePublishableKey)
	g := gate.New(records, authority)
	ingestor := webhook.NewIngestor(cfg.StripeWebhookSecret, g, cfg.WebhookValidity)

	// 3. HTTP API.
	h := &api.Handler{
		Gate:           g,
		Payments:       authority,
		Webhooks:       ingestor,
		PublishableKey: cfg.StripePublishableKey,
		AudioURL:       cfg.AudioURL,
		SuccessURL:     cfg.SuccessURL,
		CancelURL:      cfg.CancelURL,
	}

	r := gin.Default()

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept-Encoding, X-Eternal-Claim, Stripe-Signature")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	h.Register(r.Group("/api"))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 4. Optional self-signed TLS. The device cookie is Secure, so without a
	// TLS-terminating proxy in front the daemon has to speak HTTPS itself.
	if cfg.TLSSelfSigned {
		fmt.Println("Generating self-signed certificate...")
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			log.Fatalf("Failed to generate TLS certificate: %v", err)
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	// 5. Graceful shutdown: stop accepting, then drain background persistence.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutdown signal received.")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
		if embedded != nil {
			fmt.Println("Finalizing disk writes...")
			embedded.Wait()
		}
		fmt.Println("Exiting.")
	}()

	fmt.Printf("Eternal Gate listening on :%s\n", cfg.HTTPPort)
	if cfg.TLSSelfSigned {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
