package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trcoder/trcoder/pkg/client"
)

func apiClient(cmd *cobra.Command) (*client.Client, error) {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("TRCODER_API_KEY")
	}
	if token == "" {
		return nil, fmt.Errorf("--token or TRCODER_API_KEY is required")
	}
	return client.New(server, token), nil
}

var statusCmd = &cobra.Command{
	Use:   "status [RUN_ID]",
	Short: "Show identity and usage, or one run's status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			status, err := c.RunStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Run %s\n", status.Run.ID)
			fmt.Printf("  State: %s\n", status.Run.State)
			if status.CurrentTaskID != "" {
				fmt.Printf("  Current task: %s\n", status.CurrentTaskID)
			}
			fmt.Printf("  Cost to date: $%.4f\n", status.CostToDateUSD)
			fmt.Printf("  Budget remaining: $%.4f\n", status.BudgetRemainingUSD)
			return nil
		}

		whoami, err := c.Whoami(cmd.Context())
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(whoami, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show ledger-derived usage for the current month",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}

		today, _ := cmd.Flags().GetBool("today")
		usage, err := c.UsageMonth(cmd.Context())
		if today {
			usage, err = c.UsageToday(cmd.Context())
		}
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(usage, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, usageCmd} {
		c.Flags().String("server", "http://127.0.0.1:7777", "Server base URL")
		c.Flags().String("token", "", "API key (default $TRCODER_API_KEY)")
	}
	usageCmd.Flags().Bool("today", false, "Show today's usage instead of the month")
}
