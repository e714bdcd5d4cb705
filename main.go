package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zapacademy/platform/internal/audit"
	"github.com/zapacademy/platform/internal/claim"
	"github.com/zapacademy/platform/internal/entitlement"
	"github.com/zapacademy/platform/internal/pricing"
	"github.com/zapacademy/platform/internal/receipt"
	"github.com/zapacademy/platform/internal/relays"
	"github.com/zapacademy/platform/internal/store/pg"
	"github.com/zapacademy/platform/internal/store/sqlite"
	"github.com/zapacademy/platform/internal/topup"
	"github.com/zapacademy/platform/internal/topup/ln/nodeless"
	"github.com/zapacademy/platform/internal/topup/ln/zbd"
)

var (
	commit    string
	buildDate string
)

func main() {
	ctx := context.Background()

	configPath := flag.String("config", "", "location of config file. If non is specified config will be loaded from the environment")
	flag.Parse()

	log.Printf("build info: commit: %v date: %v\n", commit, buildDate)

	var (
		cfg Config
		err error
	)
	if *configPath != "" {
		log.Printf("loading config from file %q\n", *configPath)
		err = cfg.Load(*configPath)
	} else {
		log.Println("loading config from env")
		err = cfg.LoadFromEnv()
	}
	if err != nil {
		log.Println(err)
		os.Exit(1)
	}

	// Store setup
	var store entitlement.Store
	switch cfg.Store {
	case "pg":
		store, err = pg.New(cfg.DB)
	case "sqlite":
		store, err = sqlite.New(cfg.DBFile)
	default:
		log.Printf("unknown store %q. must be 'pg' or 'sqlite'", cfg.Store)
		os.Exit(1)
	}
	if err != nil {
		log.Printf("store err: %v\n", err)
		os.Exit(1)
	}

	prices := pricing.New(store, func(ref pricing.ContentRef, trusted, hint int64) {
		priceMismatchCounter.Inc()
		log.Printf("price hint mismatch: content=%v trusted=%d hint=%d", ref.ID(), trusted, hint)
	})

	ledger, err := entitlement.New(store)
	if err != nil {
		log.Printf("ledger err: %v\n", err)
		os.Exit(1)
	}

	// Lightning setup
	var issuer topup.Issuer
	switch cfg.LightningProvider {
	case "nodeless":
		issuer, err = nodeless.New(cfg.NodelessAPIKey, cfg.NodelessStoreID, cfg.NodelessTestnet)
		if err != nil {
			log.Printf("nodeless err: %v\n", err)
			os.Exit(1)
		}
	case "zbd":
		chargeCallbackURL, err := url.JoinPath(cfg.APIBase, "/callback/zbd-charge")
		if err != nil {
			log.Printf("zbd chargeCallbackURL: %v\n", err)
			os.Exit(1)
		}

		issuer, err = zbd.New(cfg.ZBDAPIKey, chargeCallbackURL)
		if err != nil {
			log.Printf("zbd err: %v\n", err)
			os.Exit(1)
		}
	case "":
		log.Println("no lightning_provider configured, top-up invoices disabled")
	default:
		log.Printf("unknown lightning_provider %q. must be 'nodeless' or 'zbd'", cfg.LightningProvider)
		os.Exit(1)
	}

	// Audit setup
	sinks := []audit.Sink{audit.NewLogSink()}
	if cfg.AuditS3Bucket != "" {
		s3Sink, err := audit.NewS3Archive(ctx, audit.S3Config{
			Bucket:    cfg.AuditS3Bucket,
			Prefix:    cfg.AuditS3Prefix,
			Region:    cfg.AuditS3Region,
			Endpoint:  cfg.AuditS3Endpoint,
			AccessKey: cfg.AuditS3AccessKey,
			SecretKey: cfg.AuditS3SecretKey,
		})
		if err != nil {
			log.Printf("audit s3 err: %v\n", err)
			os.Exit(1)
		}
		sinks = append(sinks, s3Sink)
	}
	auditSink := audit.Multi(sinks...)

	opts := claim.Options{
		Audit: auditSink,
		Topup: issuer,
	}
	if len(cfg.RelayURLs) > 0 {
		opts.Receipts = relays.NewSource(cfg.RelayURLs, time.Duration(cfg.RelayTimeoutSeconds)*time.Second)
	}

	claims, err := claim.New(prices, receipt.NewVerifier(cfg.TrustedZapperPubkeys), ledger, opts)
	if err != nil {
		log.Printf("claims err: %v\n", err)
		os.Exit(1)
	}

	h := handlers{
		config: cfg,
		claims: claims,
		ledger: ledger,
		audit:  auditSink,
	}
	if cfg.PublisherNsec != "" {
		pub, err := relays.NewPublisher(cfg.PublisherNsec, cfg.RelayURLs)
		if err != nil {
			log.Printf("publisher err: %v\n", err)
			os.Exit(1)
		}
		h.notes = pub
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(metricsMiddleware)

	r.Post("/claim", h.handleClaim)
	r.Get("/access/{pubkey}/{resourceID}", h.handleGetAccess)
	r.Get("/purchases/{pubkey}", h.handleListPurchases)
	r.Post("/callback/zbd-charge", h.handleCallbackZBDCharge)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	port := fmt.Sprintf(":%d", cfg.Port)

	log.Printf("api listening on %v\n", port)

	http.ListenAndServe(port, r)
}
