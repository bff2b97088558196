package cmd

import (
	"clusterplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage encrypted credentials",
}

var credentialStoreCmd = &cobra.Command{
	Use:   "store",
	Short: "Store a secret in the vault",
	Long: `Store a secret in the vault. The response contains an opaque
reference; the plaintext is never returned again except through reveal.

Example:
  cpctl credential store --secret "pplx-abc123" --scope llm
  cpctl credential store --secret "tok" --scope llm --subscriber 9b2d...`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		secret, _ := flags.GetString("secret")
		scopes, _ := flags.GetStringSlice("scope")
		subscriber, _ := flags.GetString("subscriber")

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API key not found. Please set it using the --token flag or the CLUSTERPLANE_TOKEN environment variable")
			return
		}

		if secret == "" {
			cmd.Println("Error: --secret is required")
			return
		}

		if len(scopes) == 0 {
			cmd.Println("Error: --scope is required")
			return
		}

		client := NewPlaneClient(url, token)
		result, err := client.StoreCredential(api.StoreCredentialRequest{
			Secret:           secret,
			Scopes:           scopes,
			SubscriberUserID: subscriber,
		})
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Credential stored!\nRef: %s\n", result.Ref)
	},
}

var credentialRevealCmd = &cobra.Command{
	Use:   "reveal [ref]",
	Short: "Reveal a stored secret",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ref := args[0]
		scope, _ := cmd.Flags().GetString("scope")

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API key not found. Please set it using the --token flag or the CLUSTERPLANE_TOKEN environment variable")
			return
		}

		if scope == "" {
			cmd.Println("Error: --scope is required")
			return
		}

		client := NewPlaneClient(url, token)
		result, err := client.RevealCredential(ref, api.RevealCredentialRequest{Scope: scope})
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Println(result.Secret)
	},
}

var credentialRevokeCmd = &cobra.Command{
	Use:   "revoke [ref]",
	Short: "Revoke a stored secret",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ref := args[0]

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API key not found. Please set it using the --token flag or the CLUSTERPLANE_TOKEN environment variable")
			return
		}

		client := NewPlaneClient(url, token)
		if err := client.RevokeCredential(ref); err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Credential %s revoked\n", ref)
	},
}

func init() {
	storeFlags := credentialStoreCmd.Flags()
	storeFlags.StringP("secret", "s", "", "Secret value to store (required)")
	storeFlags.StringSlice("scope", []string{}, "Usage scope, e.g. llm (required, repeatable)")
	storeFlags.String("subscriber", "", "User ID allowed to reveal this secret (optional)")

	credentialRevealCmd.Flags().String("scope", "", "Scope to reveal under (required)")

	credentialCmd.AddCommand(credentialStoreCmd)
	credentialCmd.AddCommand(credentialRevealCmd)
	credentialCmd.AddCommand(credentialRevokeCmd)
	rootCmd.AddCommand(credentialCmd)
}
