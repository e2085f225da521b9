package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trcoder/trcoder/pkg/apikey"
	"github.com/trcoder/trcoder/pkg/artifacts"
	"github.com/trcoder/trcoder/pkg/billing"
	"github.com/trcoder/trcoder/pkg/secrets"
	"github.com/trcoder/trcoder/pkg/storage"
	"github.com/trcoder/trcoder/pkg/types"
)

// apikey and credits commands operate directly on the server's data
// directory; run them on the server host while the server is stopped, or
// point --data-dir at a separate store.

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key for an org/user",
	RunE: func(cmd *cobra.Command, args []string) error {
		orgID, _ := cmd.Flags().GetString("org")
		userID, _ := cmd.Flags().GetString("user")
		plan, _ := cmd.Flags().GetString("plan")

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		key, err := apikey.NewManager(store).Create(types.Identity{
			OrgID:       orgID,
			UserID:      userID,
			BillingPlan: plan,
		})
		if err != nil {
			return err
		}

		fmt.Printf("API key created for %s/%s (plan %s):\n\n  %s\n\n", orgID, userID, plan, key.Token)
		fmt.Println("Store it safely; the token is shown only once in plain form.")
		return nil
	},
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke TOKEN",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := apikey.NewManager(store).Revoke(args[0]); err != nil {
			return err
		}
		fmt.Println("✓ API key revoked")
		return nil
	},
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Manage prepaid credits",
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant credits to an org",
	RunE: func(cmd *cobra.Command, args []string) error {
		orgID, _ := cmd.Flags().GetString("org")
		amount, _ := cmd.Flags().GetFloat64("amount")
		reason, _ := cmd.Flags().GetString("reason")

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		bill := billing.NewManager(store)
		if err := bill.GrantCredits(types.Identity{OrgID: orgID}, amount, reason); err != nil {
			return err
		}
		balance, err := bill.CreditBalance(orgID)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Granted $%.2f to %s (balance $%.2f)\n", amount, orgID, balance)
		return nil
	},
}

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance ORG",
	Short: "Show an org's credit balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		balance, err := billing.NewManager(store).CreditBalance(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("$%.2f\n", balance)
		return nil
	},
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage server-side secrets",
}

var secretSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Store an encrypted secret (e.g. github_token)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := resolveDataDir(cmd)
		if err != nil {
			return err
		}
		store, err := secrets.NewFileStore(dataDir)
		if err != nil {
			return err
		}
		if err := store.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("✓ Secret %q stored\n", args[0])
		return nil
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete KEY",
	Short: "Delete a secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := resolveDataDir(cmd)
		if err != nil {
			return err
		}
		store, err := secrets.NewFileStore(dataDir)
		if err != nil {
			return err
		}
		if err := store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Secret %q deleted\n", args[0])
		return nil
	},
}

func resolveDataDir(cmd *cobra.Command) (string, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir != "" {
		return dataDir, nil
	}
	return artifacts.DefaultDataDir()
}

func openStore(cmd *cobra.Command) (*storage.BoltStore, error) {
	dataDir, err := resolveDataDir(cmd)
	if err != nil {
		return nil, err
	}
	return storage.NewBoltStore(dataDir)
}

func init() {
	apikeyCmd.AddCommand(apikeyCreateCmd)
	apikeyCmd.AddCommand(apikeyRevokeCmd)
	creditsCmd.AddCommand(creditsGrantCmd)
	creditsCmd.AddCommand(creditsBalanceCmd)
	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretDeleteCmd)

	for _, c := range []*cobra.Command{
		apikeyCreateCmd, apikeyRevokeCmd,
		creditsGrantCmd, creditsBalanceCmd,
		secretSetCmd, secretDeleteCmd,
	} {
		c.Flags().String("data-dir", "", "Data directory (default $TRCODER_DATA_DIR or ~/.trcoder)")
	}

	apikeyCreateCmd.Flags().String("org", "", "Organization ID")
	apikeyCreateCmd.Flags().String("user", "", "User ID")
	apikeyCreateCmd.Flags().String("plan", "standard", "Billing plan")
	apikeyCreateCmd.MarkFlagRequired("org")
	apikeyCreateCmd.MarkFlagRequired("user")

	creditsGrantCmd.Flags().String("org", "", "Organization ID")
	creditsGrantCmd.Flags().Float64("amount", 0, "Amount in USD")
	creditsGrantCmd.Flags().String("reason", "manual grant", "Grant reason recorded in the ledger")
	creditsGrantCmd.MarkFlagRequired("org")
	creditsGrantCmd.MarkFlagRequired("amount")
}
