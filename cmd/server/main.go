package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/taskdog/internal/api"
	"github.com/t77yq/taskdog/internal/execlog"
	"github.com/t77yq/taskdog/internal/executor"
	"github.com/t77yq/taskdog/internal/model"
	"github.com/t77yq/taskdog/internal/monitor"
	"github.com/t77yq/taskdog/internal/notify"
	"github.com/t77yq/taskdog/internal/runtime"
	"github.com/t77yq/taskdog/internal/scheduler"
	"github.com/t77yq/taskdog/internal/shim"
	"github.com/t77yq/taskdog/internal/store"
)

// monitoredRunner counts scheduled executions in the monitor.
type monitoredRunner struct {
	runner  *executor.Runner
	monitor *monitor.Monitor
}

func (m *monitoredRunner) Run(ctx context.Context, task *model.Task) model.TaskRunResult {
	m.monitor.ExecutionStarted()
	defer m.monitor.ExecutionFinished()
	return m.runner.Run(ctx, task)
}

func loadConfig(logger *zap.Logger) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("taskdog")
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8412)
	viper.SetDefault("server.api_base_url", "")
	viper.SetDefault("storage.path", "./data/taskdog.db")
	viper.SetDefault("scripts.dir", "./data/scripts")
	viper.SetDefault("execution.timeout", executor.DefaultTimeout)
	viper.SetDefault("execution.inherit_system_env", true)
	viper.SetDefault("logging.retain_days", 30)
	viper.SetDefault("monitor.interval", 15*time.Second)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logger.Fatal("Failed to read config file", zap.Error(err))
		}
		logger.Info("No config file found, using defaults")
	}
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	loadConfig(logger)

	addr := fmt.Sprintf("%s:%d", viper.GetString("server.host"), viper.GetInt("server.port"))
	apiBaseURL := viper.GetString("server.api_base_url")
	if apiBaseURL == "" {
		apiBaseURL = "http://" + addr
	}

	st, err := store.Open(logger, viper.GetString("storage.path"))
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer st.Close()

	files, err := store.NewFiles(viper.GetString("scripts.dir"))
	if err != nil {
		logger.Fatal("Failed to prepare scripts directory", zap.Error(err))
	}

	// The node preload lives next to the database, outside the scripts root,
	// so it cannot collide with a user script.
	shimPath, err := shim.WriteNodePreload(filepath.Dir(viper.GetString("storage.path")))
	if err != nil {
		logger.Fatal("Failed to write node preload", zap.Error(err))
	}

	execLogger := execlog.New(logger, st.Logs)
	envBuilder := runtime.NewBuilder(logger, st.Globals, runtime.BuilderConfig{
		InheritSystemEnv: viper.GetBool("execution.inherit_system_env"),
		APIBaseURL:       apiBaseURL,
	})
	processExecutor := executor.NewProcessExecutor(logger, files, executor.Config{
		Timeout:      viper.GetDuration("execution.timeout"),
		NodeShimPath: shimPath,
	})
	runner := executor.NewRunner(logger, st, envBuilder, processExecutor, execLogger)

	var webhooks []notify.Webhook
	if err := viper.UnmarshalKey("notify.webhooks", &webhooks); err != nil {
		logger.Fatal("Failed to parse webhook config", zap.Error(err))
	}
	notifier := notify.New(logger, webhooks)

	mon := monitor.New(logger, viper.GetDuration("monitor.interval"))
	sched := scheduler.New(logger, st.Tasks, &monitoredRunner{runner: runner, monitor: mon}, execLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mon.Start(ctx)
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	srv := &http.Server{
		Addr:        addr,
		Handler:     api.New(logger, st, files, runner, sched, notifier, mon).Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Daily log retention cleanup.
	go func() {
		cleanupTicker := time.NewTicker(24 * time.Hour)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-cleanupTicker.C:
				cutoff := time.Now().UTC().AddDate(0, 0, -viper.GetInt("logging.retain_days"))
				if _, err := st.Logs.DeleteBefore(ctx, cutoff); err != nil {
					logger.Error("Failed to cleanup old logs", zap.Error(err))
				}
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}

	// Stop firing new triggers, then give in-flight executions until the
	// shutdown deadline before cancelling their context.
	sched.Stop()
	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("All executions completed")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached, cancelling running executions")
		cancel()
		sched.Wait()
	}

	logger.Info("Server shutting down gracefully")
}
