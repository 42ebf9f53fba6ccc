package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"github.com/evahq/eva/internal/profile"
	"github.com/evahq/eva/plugin/ai"
	"github.com/evahq/eva/plugin/ai/agent"
	"github.com/evahq/eva/plugin/ai/agent/tools"
	"github.com/evahq/eva/plugin/ai/memory"
	"github.com/evahq/eva/plugin/ai/revival"
	"github.com/evahq/eva/server/auth"
	"github.com/evahq/eva/server/middleware"
	apiv1 "github.com/evahq/eva/server/router/api/v1"
	"github.com/evahq/eva/server/service/session"
	"github.com/evahq/eva/store"
)

const greetingBanner = `Eva conversation service
version %s, listening on %s:%d
data directory %s
`

var rootCmd = &cobra.Command{
	Use:   "eva",
	Short: "Eva is a conversational assistant service with tools and memory",
	RunE: func(_ *cobra.Command, _ []string) error {
		p := &profile.Profile{
			Mode:   viper.GetString("mode"),
			Addr:   viper.GetString("addr"),
			Port:   viper.GetInt("port"),
			Data:   viper.GetString("data"),
			Driver: viper.GetString("driver"),
			DSN:    viper.GetString("dsn"),
		}
		p.FromEnv()
		if err := p.Validate(); err != nil {
			return err
		}
		return run(p)
	},
}

func init() {
	rootCmd.PersistentFlags().String("mode", "prod", `mode of the server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of the server")
	rootCmd.PersistentFlags().Int("port", 8230, "port of the server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "memory", `revival backend, "memory" or "sqlite"`)
	rootCmd.PersistentFlags().String("dsn", "", "dsn of the revival database")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("eva")
	viper.AutomaticEnv()
}

func run(p *profile.Profile) error {
	level := slog.LevelInfo
	if p.IsDev() {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(p)
	if err != nil {
		return err
	}
	defer st.Close()
	gate, err := auth.NewGate(filepath.Join(p.Data, "auth.json"))
	if err != nil {
		return err
	}

	restored, err := st.RestoreRecent(ctx)
	if err != nil {
		slog.Warn("session restore incomplete", slog.Any("error", err))
	}
	removed, err := st.CleanupOld(ctx, store.DefaultRetentionDays)
	if err != nil {
		slog.Warn("session cleanup incomplete", slog.Any("error", err))
	}
	slog.Info("store ready", slog.Int("restored", restored), slog.Int("removed", removed))

	llm, err := ai.NewLLMService(ai.NewLLMConfigFromProfile(p))
	if err != nil {
		return err
	}

	var adapter memory.Adapter
	if p.IsMemoryEnabled() {
		adapter = memory.NewClient(p.MemoryBaseURL, p.MemoryAPIKey, st)
	}

	revivals, backendCloser, err := newRevivalEngine(p)
	if err != nil {
		return err
	}
	if backendCloser != nil {
		defer backendCloser()
	}

	registry := agent.NewRegistry()
	if err := registerTools(registry, p, llm); err != nil {
		return err
	}

	orchestrator := agent.NewOrchestrator(llm, registry, st, adapter, revivals, agent.Config{
		ParallelToolCalls: true,
	})
	sessions := session.NewRouter(st, gate)
	limiter := middleware.NewRateLimiter(5, 10)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI: true, LogStatus: true, LogMethod: true, LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			slog.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency))
			return nil
		},
	}))

	apiv1.NewAPIV1Service(st, gate, sessions, orchestrator, limiter).Register(e)

	go maintenanceLoop(ctx, st, gate)

	address := fmt.Sprintf("%s:%d", p.Addr, p.Port)
	fmt.Printf(greetingBanner, p.Version, p.Addr, p.Port, p.Data)

	go func() {
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			slog.Error("server stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// maintenanceLoop prunes expired tickets hourly and stale sessions
// daily until the context ends.
func maintenanceLoop(ctx context.Context, st *store.Store, gate *auth.Gate) {
	ticketTicker := time.NewTicker(time.Hour)
	sessionTicker := time.NewTicker(24 * time.Hour)
	defer ticketTicker.Stop()
	defer sessionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticketTicker.C:
			if removed := gate.CleanupExpired(); removed > 0 {
				slog.Info("expired tickets pruned", slog.Int("count", removed))
			}
		case <-sessionTicker.C:
			removed, err := st.CleanupOld(ctx, store.DefaultRetentionDays)
			if err != nil {
				slog.Warn("session cleanup incomplete", slog.Any("error", err))
			} else if removed > 0 {
				slog.Info("stale sessions pruned", slog.Int("count", removed))
			}
		}
	}
}

func newRevivalEngine(p *profile.Profile) (*revival.Engine, func() error, error) {
	if p.Driver != "sqlite" {
		return revival.NewEngine(revival.Config{}), nil, nil
	}
	backend, err := revival.NewSQLiteBackend(p.DSN)
	if err != nil {
		return nil, nil, err
	}
	return revival.NewEngine(revival.Config{Backend: backend}), backend.Close, nil
}

// registerTools wires every tool with configuration in the profile.
func registerTools(registry *agent.Registry, p *profile.Profile, llm ai.LLMService) error {
	register := func(tool agent.Tool, enabled bool) error {
		if !enabled {
			return nil
		}
		return registry.Register(tool)
	}

	if err := register(tools.NewMailTool(p.MailHost, p.MailFrom, nil), p.MailHost != ""); err != nil {
		return err
	}
	if err := register(tools.NewFileTool(p.FileSandboxRoot), p.FileSandboxRoot != ""); err != nil {
		return err
	}
	if err := register(tools.NewWebSearchTool(p.SearchBaseURL, p.SearchAPIKey), p.SearchBaseURL != ""); err != nil {
		return err
	}
	if p.ImageBaseURL != "" {
		backends := map[string]tools.ImageBackend{
			"dall-e": {BaseURL: p.ImageBaseURL, APIKey: p.ImageAPIKey},
			"flux":   {BaseURL: p.ImageBaseURL, APIKey: p.ImageAPIKey},
		}
		if err := registry.Register(tools.NewImageTool(backends, "dall-e")); err != nil {
			return err
		}
		unrestricted := tools.NewUnrestrictedImageTool(
			tools.ImageBackend{BaseURL: p.ImageBaseURL, APIKey: p.ImageAPIKey}, "flux-dev")
		if err := registry.Register(unrestricted); err != nil {
			return err
		}
	}
	if p.MusicBaseURL != "" {
		token := &oauth2.Token{AccessToken: p.MusicToken, RefreshToken: p.MusicRefresh}
		if err := registry.Register(tools.NewMusicTool(p.MusicBaseURL, token, nil)); err != nil {
			return err
		}
	}
	if err := register(tools.NewAppointmentTool(llm), true); err != nil {
		return err
	}
	if p.MessagingWebhook != "" {
		if err := registry.Register(tools.NewMessagingTool(p.MessagingWebhook)); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("startup failed", slog.Any("error", err))
		os.Exit(1)
	}
}
