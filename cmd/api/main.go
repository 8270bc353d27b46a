package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-helmwatch/internal/auth"
	"backend-helmwatch/internal/config"
	"backend-helmwatch/internal/db"
	"backend-helmwatch/internal/logging"
	"backend-helmwatch/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type options struct {
	cfg        config.Config
	printToken bool
	tokenTTL   time.Duration
}

type mainDeps struct {
	args            []string
	stdout          io.Writer
	parseArgs       func([]string) (options, error)
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		args:            os.Args[1:],
		stdout:          os.Stdout,
		parseArgs:       parseArgs,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		notify:          signal.Notify,
		run:             Run,
	}
}

func parseArgs(args []string) (options, error) {
	fs := config.Flags("helmwatch")
	printToken := fs.Bool("print-token", false, "print a device token for the configured DEVICE_ID and exit")
	tokenTTL := fs.Duration("token-ttl", auth.DeviceTokenTTL, "lifetime of the printed token")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return options{cfg: config.LoadWithFlags(fs), printToken: *printToken, tokenTTL: *tokenTTL}, nil
}

func realMain(deps mainDeps) {
	opts, err := deps.parseArgs(deps.args)
	if err != nil {
		slog.Error("invalid arguments", "error", err)
		return
	}
	cfg := opts.cfg
	logger := logging.Init(cfg.LogLevel, cfg.AppEnv)

	if opts.printToken {
		token, err := auth.NewService(cfg.JWTSecret).SignDeviceToken(cfg.DeviceID, opts.tokenTTL)
		if err != nil {
			logger.Error("sign device token", "error", err)
			return
		}
		fmt.Fprintln(deps.stdout, token)
		return
	}

	var pg *pgxpool.Pool
	if cfg.StoreDriver == "postgres" {
		pg, err = deps.connectPostgres(cfg)
		if err != nil {
			logger.Error("postgres connection failed", "error", err)
		}
	}

	rdb := deps.connectRedis(cfg)

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, signals, nil); err != nil {
		logger.Error("server exited with error", "error", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the daemon and its HTTP server and waits for termination
// signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, signals <-chan os.Signal, listen ListenFunc) error {
	srv, err := server.NewServer(cfg, pg, rdb, slog.Default())
	if err != nil {
		return err
	}
	srv.Start(ctx)
	defer func() {
		srv.Close()
		if pg != nil {
			pg.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
	}()

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return shutdownFn(srv.App, shutdownCtx)
}
