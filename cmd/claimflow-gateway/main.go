package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/davidahmann/claimflow/internal/api"
	"github.com/davidahmann/claimflow/internal/archive"
	"github.com/davidahmann/claimflow/internal/auth"
	"github.com/davidahmann/claimflow/internal/config"
	"github.com/davidahmann/claimflow/internal/dup"
	"github.com/davidahmann/claimflow/internal/engine"
	"github.com/davidahmann/claimflow/internal/ledger"
	"github.com/davidahmann/claimflow/internal/ledger/pgstore"
	"github.com/davidahmann/claimflow/internal/ledger/sqlstore"
	"github.com/davidahmann/claimflow/internal/logging"
	"github.com/davidahmann/claimflow/internal/notify"
	"github.com/davidahmann/claimflow/internal/stage"
)

func main() {
	if err := runFn(os.Args[1:], os.Getenv, listenAndServe, newServer); err != nil {
		fatalf("server error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

type closeFn func()

func newServer(cfg config.Config) (*http.Server, closeFn, error) {
	logger := logging.New(cfg.Log.Level, cfg.Log.Console)

	store, closeStore, err := openStore(cfg.DB)
	if err != nil {
		return nil, nil, err
	}

	outbox := notify.NewOutbox(store)
	detector := dup.NewDetector(store)
	handlers := stage.DefaultHandlers(stage.Delegates{
		Notifier: outbox,
		Archiver: archive.Bundler{Store: store, Dir: cfg.Archive.Dir},
	})

	timeout, err := cfg.Engine.Timeout()
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	eng := engine.New(store, detector, handlers, engine.Config{
		PaymentRetryLimit: cfg.Engine.PaymentRetryLimit,
		HandlerTimeout:    timeout,
	}, logger)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	if cfg.Notify.Enabled {
		dispatcher := notify.NewDispatcher(store, notify.LogMessenger{Log: logger}, cfg.Notify.RatePerSec, logger)
		interval, err := cfg.Notify.Interval()
		if err != nil {
			stopWorker()
			closeStore()
			return nil, nil, err
		}
		go dispatcher.RunWorker(workerCtx, interval)
	}

	h := &api.Handler{
		Auth:   auth.NewAuthenticatorFromEnv(),
		Engine: eng,
		Store:  store,
		Log:    logger,
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}
	cleanup := func() {
		stopWorker()
		closeStore()
	}
	return server, cleanup, nil
}

func openStore(db config.DBConfig) (ledger.Store, closeFn, error) {
	switch db.Driver {
	case "":
		return ledger.NewInMemoryStore(), func() {}, nil
	case "sqlite":
		store, err := sqlstore.OpenSQLite(db.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		store, err := pgstore.OpenPostgres(db.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported db driver %q", db.Driver)
	}
}

type envFn func(string) string
type listenFn func(*http.Server) error
type serverFactory func(cfg config.Config) (*http.Server, closeFn, error)

func run(args []string, getenv envFn, listen listenFn, factory serverFactory) error {
	fs := flag.NewFlagSet("claimflow-gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to claimflow config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile := *configPath
	if cfgFile == "" {
		cfgFile = getenv("CLAIMFLOW_CONFIG_PATH")
	}

	var cfg config.Config
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	cfg.ListenAddr = firstNonEmpty(getenv("CLAIMFLOW_LISTEN_ADDR"), cfg.ListenAddr, ":8080")
	if driver := getenv("CLAIMFLOW_DB_DRIVER"); driver != "" {
		cfg.DB.Driver = driver
	}
	if dsn := getenv("CLAIMFLOW_DB_DSN"); dsn != "" {
		cfg.DB.DSN = dsn
	}

	server, cleanup, err := factory(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	log.Printf("claimflow-gateway listening on %s", cfg.ListenAddr)
	if err := listen(server); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func listenAndServe(server *http.Server) error {
	return server.ListenAndServe()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
