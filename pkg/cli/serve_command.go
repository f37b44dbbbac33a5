package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/agent-protocol/sandbox-orchestrator/pkg/a2a"
	a2aserver "github.com/agent-protocol/sandbox-orchestrator/pkg/a2a/server"
	"github.com/agent-protocol/sandbox-orchestrator/pkg/api"
	"github.com/agent-protocol/sandbox-orchestrator/pkg/config"
	"github.com/agent-protocol/sandbox-orchestrator/pkg/daytona"
	"github.com/agent-protocol/sandbox-orchestrator/pkg/orchestrator"
	"github.com/agent-protocol/sandbox-orchestrator/pkg/ptr"
)

// serveCommand runs the orchestration agent: the A2A endpoint, the admin
// API, and the orchestrator loop.
func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the sandbox orchestration agent",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "agent-name",
				Usage: "Agent name announced on the A2A network",
			},
			&cli.StringFlag{
				Name:  "host-url",
				Usage: "Public URL peers use to reach this agent",
			},
			&cli.StringFlag{
				Name:  "api-url",
				Usage: "Base URL of the Daytona API",
			},
			&cli.StringFlag{
				Name:  "api-key",
				Usage: "API key for the Daytona API",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to bind the servers to",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port for the A2A endpoint",
			},
			&cli.IntFlag{
				Name:  "admin-port",
				Usage: "Port for the admin API",
			},
			&cli.StringFlag{
				Name:  "templates",
				Usage: "Path to a YAML template catalog",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Logging level (DEBUG, INFO, WARNING, ERROR)",
			},
		},
		Action: runServe,
	}
}

// loadConfig builds the effective configuration from defaults, environment
// variables, and command line flags, in increasing precedence.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	cfg.ApplyEnv()

	if v := c.String("agent-name"); v != "" {
		cfg.AgentName = v
	}
	if v := c.String("host-url"); v != "" {
		cfg.HostURL = v
	}
	if v := c.String("api-url"); v != "" {
		cfg.APIURL = v
	}
	if v := c.String("api-key"); v != "" {
		cfg.APIKey = v
	}
	if v := c.String("host"); v != "" {
		cfg.Host = v
	}
	if v := c.Int("port"); v != 0 {
		cfg.Port = v
	}
	if v := c.Int("admin-port"); v != 0 {
		cfg.AdminPort = v
	}
	if v := c.String("templates"); v != "" {
		cfg.TemplatesFile = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	catalog := config.DefaultCatalog()
	if cfg.TemplatesFile != "" {
		catalog, err = config.LoadCatalog(cfg.TemplatesFile)
		if err != nil {
			return err
		}
	}

	daytonaClient, err := daytona.NewClient(&daytona.ClientConfig{
		BaseURL: cfg.APIURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create sandbox API client: %w", err)
	}

	transport := a2a.NewTransport(&a2a.TransportConfig{
		HeartbeatInterval: cfg.HeartbeatInterval,
	})
	defer transport.Close()

	orch := orchestrator.New(daytonaClient, transport, catalog)

	endpoint, err := a2aserver.NewServer(a2aserver.Config{
		AgentCard: agentCard(cfg, catalog),
		Transport: transport,
		Events:    orch,
	})
	if err != nil {
		return err
	}
	defer endpoint.Close()

	admin := api.NewServer(&api.ServerConfig{}, orch)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go orch.Run(ctx, transport.Receive())

	a2aSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: endpoint.Handler(),
	}
	adminSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.AdminPort),
		Handler: admin.Handler(),
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("A2A endpoint listening", "addr", a2aSrv.Addr, "agent", cfg.AgentName)
		if err := a2aSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		slog.Info("Admin API listening", "addr", adminSrv.Addr)
		if err := adminSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err := <-errCh:
		cancel()
		slog.Error("Server failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = a2aSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	return nil
}

// agentCard builds this agent's discovery document.
func agentCard(cfg *config.Config, catalog *config.Catalog) *a2a.AgentCard {
	skills := []a2a.AgentSkill{
		{
			ID:          "sandbox-lifecycle",
			Name:        "Sandbox lifecycle management",
			Description: ptr.Ptr("Create, configure, claim, release, and delete development sandboxes"),
			Tags:        []string{"sandbox", "environments"},
		},
	}
	for _, tmpl := range catalog.List() {
		skills = append(skills, a2a.AgentSkill{
			ID:          "template-" + tmpl.ID,
			Name:        tmpl.Name,
			Description: ptr.Ptr(tmpl.Description),
			Tags:        []string{"template"},
		})
	}

	return &a2a.AgentCard{
		Name:        cfg.AgentName,
		Description: ptr.Ptr("Provisions development sandboxes for peer agents"),
		URL:         cfg.HostURL,
		Version:     Version,
		Capabilities: a2a.AgentCapabilities{
			Streaming: true,
		},
		DefaultInputModes:  []string{"data"},
		DefaultOutputModes: []string{"data"},
		Skills:             skills,
	}
}
