package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tomyedwab/sqlbatch/audit"
	"github.com/tomyedwab/sqlbatch/batch"
	"github.com/tomyedwab/sqlbatch/engine"
	"github.com/tomyedwab/sqlbatch/engine/sqlite3"
	"github.com/tomyedwab/sqlbatch/handles"
	"github.com/tomyedwab/sqlbatch/httpapi"
	"github.com/tomyedwab/sqlbatch/sqlproxy/host"
	"github.com/tomyedwab/sqlbatch/sqlproxy/types"
	"github.com/tomyedwab/sqlbatch/wasmhost"
)

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}

func openerFor(name, lib string) (engine.Opener, error) {
	switch name {
	case "", "sqlite3":
		return sqlite3.Opener, nil
	case "native":
		return nativeOpener(lib)
	}
	return nil, fmt.Errorf("unknown engine %q", name)
}

func readBatch(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func main() {
	dbPath := flag.String("db", envOr("SQLBATCH_DB", ""), "Path to the SQLite database file")
	engineName := flag.String("engine", "sqlite3", "Engine backing the database: sqlite3 or native")
	sqliteLib := flag.String("sqlite-lib", "", "Path to libsqlite3 for the native engine")
	batchFile := flag.String("batch", "", "Run one batch from this file (- for stdin) and print the output")
	guestFile := flag.String("guest", "", "Path to a WASI module to run against the host")
	serveAddr := flag.String("serve", "", "Serve the HTTP API on this address")
	jwtSecret := flag.String("jwt-secret", envOr("SQLBATCH_JWT_SECRET", ""), "Path to the JWT signing key (generated if missing)")
	auditDB := flag.String("audit-db", "", "Record HTTP batch requests in this SQLite database")
	legacyErrors := flag.Bool("legacy-errors", false, "Write error frames without engine codes and messages")
	maxOutput := flag.Int("max-output", 0, "Maximum output size of one batch in bytes (0 for unlimited)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error")
	flag.Parse()

	level, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level: %v\n", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *dbPath == "" {
		logger.Error("Database path must be provided via -db flag or SQLBATCH_DB")
		os.Exit(2)
	}
	modes := 0
	for _, v := range []string{*batchFile, *guestFile, *serveAddr} {
		if v != "" {
			modes++
		}
	}
	if modes != 1 {
		logger.Error("Exactly one of -batch, -guest or -serve must be given")
		os.Exit(2)
	}

	opener, err := openerFor(*engineName, *sqliteLib)
	if err != nil {
		logger.Error("Failed to select engine", "engine", *engineName, "error", err)
		os.Exit(1)
	}
	sqlHost := host.NewSQLHost(host.Config{
		Opener: opener,
		SessionOptions: batch.Options{
			MaxOutputBytes:    *maxOutput,
			LegacyErrorFrames: *legacyErrors,
		},
		Logger: logger,
	})
	defer sqlHost.Close()

	switch {
	case *batchFile != "":
		err = runBatch(sqlHost, *dbPath, *batchFile)
	case *guestFile != "":
		err = runGuest(sqlHost, logger, *dbPath, *guestFile, flag.Args())
	default:
		err = serve(sqlHost, logger, *dbPath, *serveAddr, *jwtSecret, *auditDB)
	}
	if err != nil {
		logger.Error("Failed", "error", err)
		sqlHost.Close()
		os.Exit(1)
	}
}

func runBatch(sqlHost *host.SQLHost, dbPath, batchFile string) error {
	input, err := readBatch(batchFile)
	if err != nil {
		return fmt.Errorf("read batch: %w", err)
	}
	db, err := sqlHost.OpenDB(types.APIVersion, dbPath, engine.OpenReadWrite|engine.OpenCreate)
	if err != nil {
		return err
	}
	session, err := sqlHost.NewSession(db)
	if err != nil {
		return err
	}
	defer sqlHost.DisposeSession(session)

	out, err := sqlHost.Run(session, input)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(os.Stdout, "%s\n", out)
	return err
}

func runGuest(sqlHost *host.SQLHost, logger *slog.Logger, dbPath, guestFile string, args []string) error {
	wasmBytes, err := os.ReadFile(guestFile)
	if err != nil {
		return fmt.Errorf("read guest %s: %w", guestFile, err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bridge := wasmhost.NewBridge(sqlHost, logger)
	return bridge.RunGuest(ctx, wasmBytes, wasmhost.GuestConfig{
		Args:   append([]string{filepath.Base(guestFile)}, args...),
		Env:    map[string]string{"SQLBATCH_DB": dbPath},
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
}

func serve(sqlHost *host.SQLHost, logger *slog.Logger, dbPath, addr, secretPath, auditPath string) error {
	if secretPath == "" {
		return errors.New("-jwt-secret is required with -serve")
	}
	secret, err := httpapi.LoadJWTSecretKey(secretPath)
	if err != nil {
		return err
	}
	var auditLog *audit.Logger
	if auditPath != "" {
		if auditLog, err = audit.Open(auditPath); err != nil {
			return fmt.Errorf("open audit database: %w", err)
		}
		defer auditLog.Close()
	}

	databases := map[string]handles.Handle{}
	for i, path := range strings.Split(dbPath, ",") {
		db, err := sqlHost.OpenDB(types.APIVersion, path, engine.OpenReadWrite|engine.OpenCreate)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if i == 0 {
			databases["main"] = db
		}
		databases[name] = db
		logger.Info("Opened database", "name", name, "path", path)
	}

	server := &http.Server{
		Addr: addr,
		Handler: httpapi.NewServer(httpapi.Config{
			Host:      sqlHost,
			Databases: databases,
			Secret:    secret,
			Audit:     auditLog,
			Logger:    logger,
		}),
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting server", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
