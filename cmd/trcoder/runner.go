package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trcoder/trcoder/pkg/config"
	"github.com/trcoder/trcoder/pkg/runneragent"
)

var runnerCmd = &cobra.Command{
	Use:   "runner",
	Short: "Run the local runner agent",
}

var runnerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Connect this working tree to the server",
	Long: `Start the runner agent for one repository. The agent keeps a websocket
session to the server and answers exec, read, search and write requests
against the workspace, under the local permission policy. Ask-class
commands prompt on this terminal unless --yes is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		token, _ := cmd.Flags().GetString("token")
		projectID, _ := cmd.Flags().GetString("project")
		workspace, _ := cmd.Flags().GetString("workspace")
		configRoot, _ := cmd.Flags().GetString("config-root")
		autoYes, _ := cmd.Flags().GetBool("yes")

		if token == "" {
			token = os.Getenv("TRCODER_API_KEY")
		}
		if token == "" {
			return fmt.Errorf("--token or TRCODER_API_KEY is required")
		}
		if projectID == "" {
			return fmt.Errorf("--project is required")
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
		policy, err := cfg.CompilePermissions()
		if err != nil {
			return fmt.Errorf("failed to compile permission policy: %w", err)
		}

		var confirmer runneragent.Confirmer
		if autoYes {
			confirmer = approveAll{}
		} else {
			confirmer = &terminalConfirmer{in: bufio.NewReader(os.Stdin)}
		}

		agent, err := runneragent.New(&runneragent.Config{
			ServerURL: server,
			Token:     token,
			ProjectID: projectID,
			Workspace: workspace,
			Policy:    policy,
			Confirmer: confirmer,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Runner agent connecting to %s\n", server)
		fmt.Printf("  Project: %s\n", projectID)
		fmt.Printf("  Workspace: %s\n", workspace)
		return agent.Run(cmd.Context())
	},
}

// approveAll confirms every ask-class command, for non-interactive use
type approveAll struct{}

func (approveAll) Confirm(string) bool { return true }

// terminalConfirmer prompts on stdin for each ask-class command
type terminalConfirmer struct {
	in *bufio.Reader
}

func (c *terminalConfirmer) Confirm(command string) bool {
	fmt.Printf("Allow command? %q [y/N]: ", command)
	line, err := c.in.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func init() {
	runnerCmd.AddCommand(runnerStartCmd)

	runnerStartCmd.Flags().String("server", "ws://127.0.0.1:7777/v1/runner/ws", "Runner websocket URL")
	runnerStartCmd.Flags().String("token", "", "API key (default $TRCODER_API_KEY)")
	runnerStartCmd.Flags().String("project", "", "Project ID from 'projects/connect'")
	runnerStartCmd.Flags().String("workspace", ".", "Repository working tree to serve")
	runnerStartCmd.Flags().String("config-root", "", "Config root (default $TRCODER_CONFIG_ROOT or ~/.trcoder/config)")
	runnerStartCmd.Flags().Bool("yes", false, "Approve ask-class commands without prompting")
}
