package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qbanksync/config"
	"qbanksync/handlers"
	"qbanksync/logger"
	"qbanksync/middleware"
	"qbanksync/models"
	"qbanksync/routes"
	"qbanksync/services"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	noWorker bool

	rootCmd = &cobra.Command{
		Use:   "qbanksync",
		Short: "Keeps variant copies of multi-seed questions in sync",
		Long: `qbanksync creates one variant copy per deployed seed of every base
question, versions copies together with their base and cleans them up
when questions are deleted.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the sync event feed and the task worker",
		RunE:  runServe,
	}

	workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Run only the delayed task worker",
		RunE:  runWorker,
	}

	reconcileCmd = &cobra.Command{
		Use:   "reconcile",
		Short: "Create every missing variant copy and clean up after deleted questions",
		RunE:  runReconcile,
	}

	fixTagsCmd = &cobra.Command{
		Use:   "fix-tags",
		Short: "Re-apply the id<N> cross-reference tag on every ledger entry",
		RunE:  runFixTags,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE:  runMigrate,
	}

	hashPasswordCmd = &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := services.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
)

func init() {
	serveCmd.Flags().BoolVar(&noWorker, "no-worker", false, "do not run the task worker in this process")
	rootCmd.AddCommand(serveCmd, workerCmd, reconcileCmd, fixTagsCmd, migrateCmd, hashPasswordCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, appOptions{withHub: true})
	if err != nil {
		return err
	}
	defer a.Close()

	go a.hub.Run()
	if !noWorker {
		go a.worker.Start(ctx)
	}

	if a.cfg.LogMode == "production" || a.cfg.LogMode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(middleware.CORS())
	routes.SetupRoutes(router, routes.Handlers{
		Auth:     handlers.NewAuthHandler(a.auth),
		Question: handlers.NewQuestionHandler(a.bank, a.exchange, a.tags),
		Sync:     handlers.NewSyncHandler(a.sync, a.queue),
		Settings: handlers.NewSettingsHandler(a.settings),
	}, a.hub, a.cfg.JWTSecret, a.log)

	srv := &http.Server{
		Addr:    net.JoinHostPort(a.cfg.BindAddress, a.cfg.Port),
		Handler: router,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("Server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	a.worker.Start(ctx)
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	purged, err := a.sync.PurgeDangling(ctx)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	result, reconcileErr := a.sync.ReconcileMissing(ctx, a.cfg.SystemActor)
	if result == nil {
		return reconcileErr
	}
	if err := printJSON(cmd, map[string]interface{}{"purged": purged, "reconciled": result}); err != nil {
		return err
	}
	return reconcileErr
}

func runFixTags(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.sync.FixTags(ctx)
	if result != nil {
		for _, r := range result.Repaired {
			fmt.Fprintf(cmd.OutOrStdout(), "Fixing tag for question with ID %d to ID %d\n", r.QuestionID, r.QuestionBankEntryID)
		}
	}
	return err
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer log.Sync()

	db, err := config.InitDB(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Info("Database schema is up to date", "driver", cfg.DBDriver)
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
