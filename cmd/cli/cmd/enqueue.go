package cmd

import (
	"encoding/json"
	"time"

	"clusterplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Schedule a job on an instance",
	Long: `Schedule a durable background job against an active instance.

Example:
  cpctl enqueue --instance 7c1a... --type notify --payload '{"channel":"telegram","recipient":"555","text":"hi"}'
  cpctl enqueue --instance 7c1a... --type daily-summary --run-at 2026-09-01T06:00:00Z --key morning-digest`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		instanceID, _ := flags.GetString("instance")
		jobType, _ := flags.GetString("type")
		payload, _ := flags.GetString("payload")
		runAt, _ := flags.GetString("run-at")
		idemKey, _ := flags.GetString("key")

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API key not found. Please set it using the --token flag or the CLUSTERPLANE_TOKEN environment variable")
			return
		}

		if instanceID == "" {
			cmd.Println("Error: --instance is required")
			return
		}

		if jobType == "" {
			cmd.Println("Error: --type is required")
			return
		}

		req := api.EnqueueJobRequest{
			InstanceID:     instanceID,
			Type:           jobType,
			IdempotencyKey: idemKey,
		}

		if payload != "" {
			if !json.Valid([]byte(payload)) {
				cmd.Println("Error: --payload must be valid JSON")
				return
			}
			req.Payload = json.RawMessage(payload)
		}

		if runAt != "" {
			t, err := time.Parse(time.RFC3339, runAt)
			if err != nil {
				cmd.Printf("Error: invalid --run-at %q, expected RFC3339 timestamp\n", runAt)
				return
			}
			req.RunAt = &t
		}

		client := NewPlaneClient(url, token)
		result, err := client.EnqueueJob(req)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Job scheduled!\nID: %s\n", result.JobID)
	},
}

func init() {
	flags := enqueueCmd.Flags()
	flags.StringP("instance", "i", "", "Instance ID the job belongs to (required)")
	flags.String("type", "", "Job type, e.g. notify or daily-summary (required)")
	flags.String("payload", "", "Job payload as a JSON string (optional)")
	flags.String("run-at", "", "Earliest run time, RFC3339 (default: now)")
	flags.String("key", "", "Idempotency key; re-enqueueing returns the existing job (optional)")

	rootCmd.AddCommand(enqueueCmd)
}
