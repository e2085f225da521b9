package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trcoder/trcoder/pkg/api"
	"github.com/trcoder/trcoder/pkg/apikey"
	"github.com/trcoder/trcoder/pkg/artifacts"
	"github.com/trcoder/trcoder/pkg/billing"
	"github.com/trcoder/trcoder/pkg/config"
	"github.com/trcoder/trcoder/pkg/contextpack"
	"github.com/trcoder/trcoder/pkg/events"
	"github.com/trcoder/trcoder/pkg/metrics"
	"github.com/trcoder/trcoder/pkg/orchestrator"
	"github.com/trcoder/trcoder/pkg/pr"
	"github.com/trcoder/trcoder/pkg/provider"
	"github.com/trcoder/trcoder/pkg/runner"
	"github.com/trcoder/trcoder/pkg/secrets"
	"github.com/trcoder/trcoder/pkg/storage"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the trcoder control plane",
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the API server",
	Long: `Start the trcoder server: HTTP API, runner bridge websocket endpoint,
prometheus metrics and the event ledger, all backed by a single bbolt file
under the data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		configRoot, _ := cmd.Flags().GetString("config-root")

		if dataDir == "" {
			var err error
			dataDir, err = artifacts.DefaultDataDir()
			if err != nil {
				return err
			}
		}
		if configRoot == "" {
			var err error
			configRoot, err = config.DefaultRoot()
			if err != nil {
				return err
			}
		}

		cfg, err := config.Load(configRoot)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		metrics.SetVersion(Version)
		metrics.RegisterComponent("config", true, configRoot)

		policy, err := cfg.CompilePermissions()
		if err != nil {
			return fmt.Errorf("failed to compile permission policy: %w", err)
		}

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()
		metrics.RegisterComponent("store", true, "")

		artifactStore, err := artifacts.NewStore(dataDir)
		if err != nil {
			return err
		}
		secretStore, err := secrets.NewFileStore(dataDir)
		if err != nil {
			return err
		}

		keys := apikey.NewManager(store)
		bridge := runner.NewBridge(keys, store)
		hub := events.NewHub()
		packs := contextpack.NewManager(store, bridge)
		bill := billing.NewManager(store)
		factory := provider.NewFactory(cfg)

		orch := orchestrator.New(orchestrator.Deps{
			Config:    cfg,
			Store:     store,
			Hub:       hub,
			Bridge:    bridge,
			Factory:   factory,
			Packs:     packs,
			Policy:    policy,
			Billing:   bill,
			Artifacts: artifactStore,
			PRAdapter: pr.NewGitHub(githubToken(secretStore)),
		})

		collector := metrics.NewCollector(store, bridge)
		collector.Start()
		defer collector.Stop()

		server := api.NewServer(api.Deps{
			Config:       cfg,
			Store:        store,
			Orchestrator: orch,
			Hub:          hub,
			Bridge:       bridge,
			Keys:         keys,
			Billing:      bill,
			Packs:        packs,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("trcoder server %s listening on %s\n", Version, listen)
		fmt.Printf("  Data directory: %s\n", dataDir)
		fmt.Printf("  Config root: %s\n", configRoot)
		return server.Start(ctx, listen)
	},
}

// githubToken prefers the environment over the encrypted secret store
func githubToken(store secrets.Store) string {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return token
	}
	token, err := store.Get("github_token")
	if err != nil {
		return ""
	}
	return token
}

func init() {
	serverCmd.AddCommand(serverStartCmd)

	serverStartCmd.Flags().String("listen", "127.0.0.1:7777", "Address for the HTTP API")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (default $TRCODER_DATA_DIR or ~/.trcoder)")
	serverStartCmd.Flags().String("config-root", "", "Config root (default $TRCODER_CONFIG_ROOT or ~/.trcoder/config)")
}
