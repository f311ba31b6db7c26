package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nirahq/nira/internal/chat"
	"github.com/nirahq/nira/internal/config"
	"github.com/nirahq/nira/internal/db"
	"github.com/nirahq/nira/internal/jobs"
	"github.com/nirahq/nira/internal/memory"
	"github.com/nirahq/nira/internal/provider"
	"github.com/nirahq/nira/internal/server"
	"github.com/nirahq/nira/internal/store"
	"github.com/nirahq/nira/internal/tts"
)

// pruneKeepTurns is how many recent turns the nightly sweep keeps per user.
const pruneKeepTurns = 500

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; real deployments inject env vars directly.
			_ = godotenv.Load()

			watcher, err := config.NewWatcher(configPath, logrus.StandardLogger())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer watcher.Close()
			cfg := watcher.Current()

			log := newLogger(cfg.Log)

			database, err := db.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer database.Close()

			st := store.New(database)

			gw, err := buildGateway(cfg, log)
			if err != nil {
				return err
			}

			maintainer := memory.NewMaintainer(st, gw, log)
			runner := jobs.NewRunner(log)
			orch := chat.NewOrchestrator(st, gw, maintainer, runner, log, cfg.Persona.PromptTokenBudget)
			speech := tts.NewClient(cfg.Keys.Sarvam)

			srv := server.New(orch, st, gw, speech, watcher.Current, log)

			sched := cron.New()
			if _, err := sched.AddFunc("@daily", func() { pruneTurns(st, log) }); err != nil {
				return fmt.Errorf("schedule prune: %w", err)
			}
			sched.Start()
			defer sched.Stop()

			httpSrv := &http.Server{
				Addr:    fmt.Sprintf(":%d", cfg.Port),
				Handler: srv.Handler(),
			}

			errCh := make(chan error, 1)
			go func() {
				log.WithField("addr", httpSrv.Addr).Info("nira listening")
				if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return fmt.Errorf("serve: %w", err)
			case sig := <-sigCh:
				log.WithField("signal", sig.String()).Info("shutting down")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("http shutdown")
			}

			// Let in-flight memory maintenance finish before the DB closes.
			runner.Wait()
			return nil
		},
	}
}

// buildGateway assembles the provider chain and capability clients from the
// configured provider order.
func buildGateway(cfg config.Config, log *logrus.Logger) (*provider.Gateway, error) {
	keys := provider.Keys{
		Groq:      cfg.Keys.Groq,
		Gemini:    cfg.Keys.Gemini,
		Anthropic: cfg.Keys.Anthropic,
	}

	var chain []provider.LLM
	for _, name := range cfg.Providers {
		llm, err := provider.New(name, keys)
		if err != nil {
			return nil, err
		}
		chain = append(chain, llm)
	}

	opts := []provider.GatewayOption{}
	if cfg.Keys.Tavily != "" {
		opts = append(opts, provider.WithSearch(provider.NewTavily(cfg.Keys.Tavily)))
	}
	if cfg.Keys.Gemini != "" {
		opts = append(opts, provider.WithVision(provider.NewVision(cfg.Keys.Gemini)))
		opts = append(opts, provider.WithEmbedder(provider.NewGeminiEmbedder(cfg.Keys.Gemini)))
	}

	return provider.NewGateway(chain, log, opts...), nil
}

// pruneTurns runs the nightly turn sweep across all users.
func pruneTurns(st *store.Store, log *logrus.Logger) {
	users, err := st.ListUserIDs()
	if err != nil {
		log.WithError(err).Error("prune: list users")
		return
	}
	total := 0
	for _, id := range users {
		n, err := st.PruneTurnsKeepLatest(id, pruneKeepTurns)
		if err != nil {
			log.WithError(err).WithField("user", id).Warn("prune failed")
			continue
		}
		total += n
	}
	log.WithFields(logrus.Fields{"users": len(users), "deleted": total}).Info("nightly turn prune")
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	if cfg.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
