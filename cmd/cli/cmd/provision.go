package cmd

import (
	"strings"
	"time"

	"clusterplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision a new cluster instance",
	Long: `Provision a new cluster instance from a published definition.
The caller becomes the owner of the instance.

Example:
  cpctl provision --definition 2e9f... --param region=eu --param size=small
  cpctl provision --definition 2e9f... --expires 2026-12-31T00:00:00Z`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		definitionID, _ := flags.GetString("definition")
		params, _ := flags.GetStringSlice("param")
		expires, _ := flags.GetString("expires")
		idemToken, _ := flags.GetString("idempotency-token")

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API key not found. Please set it using the --token flag or the CLUSTERPLANE_TOKEN environment variable")
			return
		}

		if definitionID == "" {
			cmd.Println("Error: --definition is required")
			return
		}

		req := api.ProvisionRequest{
			DefinitionID:     definitionID,
			IdempotencyToken: idemToken,
		}

		if len(params) > 0 {
			req.Params = make(map[string]string, len(params))
			for _, p := range params {
				key, value, ok := strings.Cut(p, "=")
				if !ok {
					cmd.Printf("Error: invalid --param %q, expected key=value\n", p)
					return
				}
				req.Params[key] = value
			}
		}

		if expires != "" {
			t, err := time.Parse(time.RFC3339, expires)
			if err != nil {
				cmd.Printf("Error: invalid --expires %q, expected RFC3339 timestamp\n", expires)
				return
			}
			req.ExpiresAt = &t
		}

		client := NewPlaneClient(url, token)
		result, err := client.Provision(req)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Instance provisioned!\nID: %s\n", result.InstanceID)
	},
}

func init() {
	flags := provisionCmd.Flags()
	flags.StringP("definition", "d", "", "Definition ID to provision from (required)")
	flags.StringSliceP("param", "p", []string{}, "Instance parameter as key=value (repeatable)")
	flags.String("expires", "", "Expiry time, RFC3339 (optional)")
	flags.String("idempotency-token", "", "Token to make retries safe (optional)")

	rootCmd.AddCommand(provisionCmd)
}
