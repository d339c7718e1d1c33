// mistral-air-map serves a live air-quality map: measurements from
// reference stations, microsensors, community and mobile sensors, plus
// citizen nuisance reports, merged across providers and decluttered for
// rendering.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/acme/autocert"

	"mistral-air-map/pkg/api"
	"mistral-air-map/pkg/database"
	"mistral-air-map/pkg/measure"
	"mistral-air-map/pkg/orchestrator"
	"mistral-air-map/pkg/priority"
	"mistral-air-map/pkg/sources"
	"mistral-air-map/pkg/spiderfy"
	"mistral-air-map/pkg/updates"
)

var CompileVersion = "dev"

var (
	domain    = flag.String("domain", "", "Use ports 80 and 443 with automatic HTTPS certificates via Let's Encrypt.")
	port      = flag.Int("port", 8876, "Port for running the server")
	dbType    = flag.String("db-type", envOr("DB_TYPE", "sqlite"), "Snapshot store driver: sqlite, chai, genji, duckdb, or pgx (postgresql)")
	dbPath    = flag.String("db-path", envOr("DB_PATH", ""), "Path to the database file (file-based drivers)")
	dbConn    = flag.String("db-conn", envOr("DB_CONN", ""), "Raw DSN for network drivers (pgx)")
	dbHost    = flag.String("db-host", envOr("DB_HOST", "127.0.0.1"), "Database host (pgx driver)")
	dbPort    = flag.Int("db-port", envIntOr("DB_PORT", 5432), "Database port (pgx driver)")
	dbUser    = flag.String("db-user", envOr("DB_USER", "postgres"), "Database user (pgx driver)")
	dbPass    = flag.String("db-pass", envOr("DB_PASS", ""), "Database password (pgx driver)")
	dbName    = flag.String("db-name", envOr("DB_NAME", "MistralAirMap"), "Database name (pgx driver)")
	pgSSLMode = flag.String("pg-ssl-mode", envOr("PG_SSL_MODE", "prefer"), "PostgreSQL SSL mode")
	noStore   = flag.Bool("no-store", false, "Disable the warm-start snapshot store")

	defaultSources   = flag.String("sources", "stations,mobile,community,signalair", "Comma-separated initial source selection (groups allowed)")
	defaultPollutant = flag.String("pollutant", measure.PollutantPM25, "Initial pollutant selection")
	defaultTimeStep  = flag.String("time-step", string(measure.StepHour), "Initial temporal resolution: scan, 2min, 15min, hour, or day")
	autoRefresh      = flag.Bool("auto-refresh", true, "Re-fetch on a timer derived from the temporal resolution")

	version = flag.Bool("version", false, "Show the application version")
)

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	_ = godotenv.Load(".env")
	flag.Parse()

	if *version {
		fmt.Printf("mistral-air-map %s\n", CompileVersion)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store orchestrator.Store
	var restoredMs map[string][]measure.Measurement
	var restoredRs map[string][]measure.CommunityReport
	if !*noStore {
		db, err := database.New(database.Config{
			DBType:    *dbType,
			DBPath:    *dbPath,
			DBConn:    *dbConn,
			DBHost:    *dbHost,
			DBPort:    *dbPort,
			DBUser:    *dbUser,
			DBPass:    *dbPass,
			DBName:    *dbName,
			PGSSLMode: *pgSSLMode,
			Port:      *port,
		})
		if err != nil {
			log.Fatalf("snapshot store: %v", err)
		}
		defer db.Close()

		initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := db.InitSchema(initCtx); err != nil {
			log.Fatalf("snapshot schema: %v", err)
		}
		if restoredMs, err = db.LoadMeasurements(initCtx); err != nil {
			log.Printf("snapshot restore skipped: %v", err)
		}
		if restoredRs, err = db.LoadReports(initCtx); err != nil {
			log.Printf("snapshot restore skipped: %v", err)
		}
		initCancel()

		restored := 0
		for _, ms := range restoredMs {
			restored += len(ms)
		}
		for _, rs := range restoredRs {
			restored += len(rs)
		}
		log.Printf("snapshot restore: %d entities", restored)
		store = db
	}

	registry := sources.BuiltinRegistry(sources.DefaultFeedURLs(), nil, log.Printf)
	bus := updates.NewBus(64)

	orch := orchestrator.Start(ctx, orchestrator.Options{
		Registry:             registry,
		Bus:                  bus,
		Store:                store,
		RestoredMeasurements: restoredMs,
		RestoredReports:      restoredRs,
	})
	orch.SetSelection(orchestrator.Selection{
		Sources:     sources.Expand(strings.Split(*defaultSources, ",")),
		Pollutant:   *defaultPollutant,
		TimeStep:    measure.ParseTimeStep(*defaultTimeStep),
		AutoRefresh: *autoRefresh,
	})

	resolver := priority.NewResolver(priority.DefaultTiers())
	spider := spiderfy.New(spiderfy.Config{})

	mux := http.NewServeMux()
	api.NewHandler(orch, resolver, spider, bus, log.Printf).Register(mux)
	handler := withServerHeader(mux)

	if *domain != "" {
		serveWithDomain(*domain, handler)
		return
	}

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("HTTP server ➜ %s", addr)
	if err := (&http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}).ListenAndServe(); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
}

// withServerHeader stamps every response and answers HEAD / with a bare
// 200 so load balancers can probe liveness cheaply.
func withServerHeader(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "mistral-air-map/"+CompileVersion)
		if r.Method == http.MethodHead && r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// serveWithDomain runs :80 for the ACME challenge plus a redirect to
// HTTPS, and :443 with automatic Let's Encrypt certificates. A fallback
// certificate is kept around so IP-address and odd-SNI clients still get
// served instead of a handshake error.
func serveWithDomain(domain string, handler http.Handler) {
	certMgr := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache("certs"),
		HostPolicy: func(ctx context.Context, host string) error {
			if host == domain || host == "www."+domain {
				return nil
			}
			if net.ParseIP(host) != nil {
				return nil
			}
			return errors.New("acme/autocert: host not configured")
		},
	}

	go func() {
		mux80 := http.NewServeMux()
		mux80.Handle("/.well-known/acme-challenge/", certMgr.HTTPHandler(nil))
		mux80.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			target := "https://" + domain + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		})

		log.Printf("HTTP server (ACME+redirect) ➜ :80")
		if err := (&http.Server{
			Addr:              ":80",
			Handler:           mux80,
			ReadHeaderTimeout: 10 * time.Second,
		}).ListenAndServe(); err != nil {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	// Daily renewal probe keeps the certificate warm.
	go func() {
		t := time.NewTicker(24 * time.Hour)
		defer t.Stop()
		for range t.C {
			if _, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err != nil {
				log.Printf("autocert renewal check: %v", err)
			}
		}
	}()

	tlsCfg := certMgr.TLSConfig()
	tlsCfg.MinVersion = tls.VersionTLS12

	var defaultCert *tls.Certificate
	go func() {
		for defaultCert == nil {
			if c, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err == nil {
				defaultCert = c
			}
			time.Sleep(time.Minute)
		}
	}()
	tlsCfg.GetCertificate = func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := certMgr.GetCertificate(chi)
		if err == nil {
			return c, nil
		}
		if defaultCert != nil {
			return defaultCert, nil
		}
		return nil, err
	}

	log.Printf("HTTPS server ➜ :443 (domain=%s)", domain)
	srv := &http.Server{
		Addr:              ":443",
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServeTLS("", ""); err != nil {
		log.Fatalf("HTTPS server error: %v", err)
	}
}
