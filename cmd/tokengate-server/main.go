// tokengate-server is a small HTTP front end for the tokengate engine. It
// authenticates users from a static argon2id directory and exposes login,
// refresh, logout and session management endpoints.
//
// Run against an embedded Redis:
//
//	TOKENGATE_SECRET=$(openssl rand -hex 32) \
//	  go run ./cmd/tokengate-server --embedded-redis --user alice@example.com:correct-horse-staple
//
// Then:
//
//	curl -s -X POST localhost:8080/auth/login \
//	  -d '{"identifier":"alice@example.com","password":"correct-horse-staple"}'
//	curl -s localhost:8080/me -H "Authorization: Bearer <ACCESS_TOKEN>"
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/tokengate"
	"github.com/MrEthical07/tokengate/middleware"
	"github.com/MrEthical07/tokengate/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const secretEnv = "TOKENGATE_SECRET"

type options struct {
	configPath    string
	listen        string
	redisAddr     string
	redisPassword string
	embeddedRedis bool
	users         []string
	reconcile     time.Duration
	proxies       []string
	locHeader     string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("tokengate-server", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	flagSet.StringVar(&opts.listen, "listen", ":8080", "HTTP listen address")
	flagSet.StringVar(&opts.redisAddr, "redis-addr", "localhost:6379", "Redis address")
	flagSet.StringVar(&opts.redisPassword, "redis-password", "", "Redis password")
	flagSet.BoolVar(&opts.embeddedRedis, "embedded-redis", false, "run against an in-process Redis (data is lost on exit)")
	flagSet.StringArrayVar(&opts.users, "user", nil, "identifier:password of a login user (repeatable)")
	flagSet.StringArrayVar(&opts.proxies, "trusted-proxy", nil, "CIDR or address of a proxy whose X-Forwarded-For is trusted (repeatable)")
	flagSet.StringVar(&opts.locHeader, "location-header", "", "request header holding the caller location, set by a trusted edge")
	flagSet.DurationVar(&opts.reconcile, "reconcile-interval", time.Minute, "how often the active-sessions gauge is recounted (0 disables)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Logging)

	hasher, err := password.NewHasher(password.DefaultParams())
	if err != nil {
		return err
	}
	users, err := newUserDirectory(hasher, opts.users)
	if err != nil {
		return err
	}
	if users.Len() == 0 {
		log.Warn("no --user given, every login will fail")
	}

	proxies, err := middleware.ParseTrustedProxies(opts.proxies)
	if err != nil {
		return fmt.Errorf("--trusted-proxy: %w", err)
	}
	guard := []middleware.Option{middleware.WithTrustedProxies(proxies...)}
	if opts.locHeader != "" {
		guard = append(guard, middleware.WithLocator(middleware.HeaderLocator(opts.locHeader)))
	}

	rdb, stopRedis, err := openRedis(opts)
	if err != nil {
		return err
	}
	defer stopRedis()

	engine, err := tokengate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithLogger(log).
		WithAuditSink(tokengate.NewLogSink(log.WithField("component", "audit"))).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := engine.Ping(ctx); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	if opts.reconcile > 0 {
		go reconcileLoop(ctx, engine, opts.reconcile, log)
	}

	srv := &http.Server{
		Addr:              opts.listen,
		Handler:           newServer(engine, users, log, guard...).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", opts.listen).Info("tokengate-server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadConfig reads the YAML file when given, otherwise uses defaults with the
// secret taken from TOKENGATE_SECRET.
func loadConfig(path string) (tokengate.Config, error) {
	if path != "" {
		return tokengate.LoadConfigFile(path)
	}
	cfg := tokengate.DefaultConfig()
	cfg.JWT.Secret = []byte(os.Getenv(secretEnv))
	return cfg, nil
}

func newLogger(cfg tokengate.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	return log
}

func openRedis(opts options) (redis.UniversalClient, func(), error) {
	addr := opts.redisAddr
	var mr *miniredis.Miniredis
	if opts.embeddedRedis {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start embedded redis: %w", err)
		}
		addr = mr.Addr()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:                  addr,
		Password:              opts.redisPassword,
		ContextTimeoutEnabled: true,
	})
	return rdb, func() {
		_ = rdb.Close()
		if mr != nil {
			mr.Close()
		}
	}, nil
}

func reconcileLoop(ctx context.Context, engine *tokengate.Engine, every time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := engine.ReconcileActiveSessions(ctx)
			if err != nil {
				continue
			}
			log.WithField("active_sessions", n).Debug("active sessions recounted")
		}
	}
}
