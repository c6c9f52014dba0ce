package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/slidergate/api"
	"github.com/jmcleod/slidergate/internal/util"
	"github.com/jmcleod/slidergate/storage"
	bboltstorage "github.com/jmcleod/slidergate/storage/bbolt"
	"github.com/jmcleod/slidergate/storage/memory"
	pgstorage "github.com/jmcleod/slidergate/storage/postgres"
	redisstorage "github.com/jmcleod/slidergate/storage/redis"
)

var (
	port           int
	dataDir        string
	storageKind    string
	postgresDSN    string
	redisAddr      string
	redisPassword  string
	redisDB        int
	scenesFile     string
	imageBase      string
	tokenKeyHex    string
	auditWebhook   string
	webhookAuth    string
	trustedProxies []string
	tlsCert        string
	tlsKey         string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the captcha service",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		repo, closeRepo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer closeRepo()

		opts, err := apiOptions(logger)
		if err != nil {
			return err
		}
		a, err := api.New(repo, opts...)
		if err != nil {
			return fmt.Errorf("failed to configure api: %w", err)
		}
		defer a.Close()

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		useTLS := tlsCert != "" && tlsKey != ""
		if useTLS {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if useTLS {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on port %d (storage: %s, tls: %t)...\n", port, storageKind, useTLS)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// openRepository opens the backend selected by --storage.
func openRepository(ctx context.Context) (storage.Repository, func(), error) {
	switch storageKind {
	case "memory":
		return memory.NewRepository(), func() {}, nil
	case "bbolt":
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(dataDir, "captcha.db"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bbolt storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil
	case "postgres":
		if postgresDSN == "" {
			return nil, nil, errors.New("--postgres-dsn is required for postgres storage")
		}
		repo, err := pgstorage.NewRepositoryFromDSN(ctx, postgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return repo, repo.Close, nil
	case "redis":
		repo, err := redisstorage.NewRepositoryFromAddr(ctx, redisAddr, redisPassword, redisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open redis storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage %q (want bbolt, memory, postgres or redis)", storageKind)
	}
}

func apiOptions(logger *slog.Logger) ([]api.Option, error) {
	opts := []api.Option{
		api.WithLogger(logger),
		api.WithImageBase(imageBase),
		api.WithAlertFunc(func(e api.AlertEvent) {
			logger.Warn("captcha alert", "type", e.Type, "message", e.Message, "count", e.Count, "threshold", e.Threshold)
		}),
	}

	if scenesFile != "" {
		pols, err := api.LoadScenePolicies(scenesFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, api.WithScenePolicies(pols))
	}

	if tokenKeyHex != "" {
		key, err := util.ParseKeyHex(tokenKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid --token-key: %w", err)
		}
		opts = append(opts, api.WithTokenKey(key))
	}

	if auditWebhook != "" {
		opts = append(opts, api.WithAuditWebhook(auditWebhook, webhookAuth))
	}

	if len(trustedProxies) > 0 {
		prefixes := make([]netip.Prefix, 0, len(trustedProxies))
		for _, raw := range trustedProxies {
			p, err := netip.ParsePrefix(strings.TrimSpace(raw))
			if err != nil {
				return nil, fmt.Errorf("invalid --trusted-proxies entry %q: %w", raw, err)
			}
			prefixes = append(prefixes, p)
		}
		opts = append(opts, api.WithTrustedProxies(prefixes))
	}
	return opts, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	f := serverCmd.Flags()
	f.IntVarP(&port, "port", "p", 8080, "Port to listen on")
	f.StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data (bbolt storage)")
	f.StringVar(&storageKind, "storage", "bbolt", "Storage backend: bbolt, memory, postgres or redis")
	f.StringVar(&postgresDSN, "postgres-dsn", "", "PostgreSQL connection string")
	f.StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address")
	f.StringVar(&redisPassword, "redis-password", "", "Redis password")
	f.IntVar(&redisDB, "redis-db", 0, "Redis database number")
	f.StringVar(&scenesFile, "scenes", "", "YAML file with per-scene policies")
	f.StringVar(&imageBase, "image-base", api.DefaultImageBase, "Prefix of puzzle image references")
	f.StringVar(&tokenKeyHex, "token-key", "", "Hex-encoded 32-byte captcha token key (random when empty)")
	f.StringVar(&auditWebhook, "audit-webhook", "", "URL receiving audit events")
	f.StringVar(&webhookAuth, "audit-webhook-auth", "", `Header sent with audit events, e.g. "Authorization: Bearer xxx"`)
	f.StringSliceVar(&trustedProxies, "trusted-proxies", nil, "CIDR ranges whose forwarding headers are trusted")
	f.StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	f.StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}
