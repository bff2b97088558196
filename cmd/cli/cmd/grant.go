package cmd

import (
	"time"

	"clusterplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var grantCmd = &cobra.Command{
	Use:   "grant [instance_id]",
	Short: "Grant a user access to an instance",
	Long: `Grant another user a role on an instance you own.

Roles: subscriber, owner, admin. Grants can be time-bounded.

Example:
  cpctl grant 7c1a... --user 9b2d... --role subscriber
  cpctl grant 7c1a... --user 9b2d... --role subscriber --end 2026-12-31T00:00:00Z`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		instanceID := args[0]

		flags := cmd.Flags()
		userID, _ := flags.GetString("user")
		role, _ := flags.GetString("role")
		start, _ := flags.GetString("start")
		end, _ := flags.GetString("end")

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API key not found. Please set it using the --token flag or the CLUSTERPLANE_TOKEN environment variable")
			return
		}

		if userID == "" {
			cmd.Println("Error: --user is required")
			return
		}

		req := api.GrantRequest{UserID: userID, Role: role}
		if start != "" {
			t, err := time.Parse(time.RFC3339, start)
			if err != nil {
				cmd.Printf("Error: invalid --start %q, expected RFC3339 timestamp\n", start)
				return
			}
			req.StartAt = &t
		}
		if end != "" {
			t, err := time.Parse(time.RFC3339, end)
			if err != nil {
				cmd.Printf("Error: invalid --end %q, expected RFC3339 timestamp\n", end)
				return
			}
			req.EndAt = &t
		}

		client := NewPlaneClient(url, token)
		if err := client.Grant(instanceID, req); err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Granted %s to user %s on instance %s\n", role, userID, instanceID)
	},
}

func init() {
	flags := grantCmd.Flags()
	flags.StringP("user", "u", "", "User ID to grant access to (required)")
	flags.StringP("role", "r", "subscriber", "Role to grant: subscriber, owner, admin")
	flags.String("start", "", "Grant start time, RFC3339 (optional)")
	flags.String("end", "", "Grant end time, RFC3339 (optional)")

	rootCmd.AddCommand(grantCmd)
}
