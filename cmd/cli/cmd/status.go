package cmd

import (
	"fmt"
	"time"

	"clusterplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of a job",
	Long:  `Retrieve detailed status information for a scheduled job, including its current state (pending, running, succeeded, failed, cancelled), attempt count, and last error.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API key not found. Please set it using the --token flag or the CLUSTERPLANE_TOKEN environment variable")
			return
		}

		client := NewPlaneClient(url, token)
		job, err := client.GetJob(jobID)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		printStatus(cmd, job)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [job_id]",
	Short: "Cancel a pending job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API key not found. Please set it using the --token flag or the CLUSTERPLANE_TOKEN environment variable")
			return
		}

		client := NewPlaneClient(url, token)
		if err := client.CancelJob(jobID); err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Job %s cancelled\n", jobID)
	},
}

func printStatus(cmd *cobra.Command, job *api.JobResponse) {
	// Header with status icon
	icon := statusIcon(job.Status)
	cmd.Printf("%s %sJob Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, job.ID)
	cmd.Printf("%sInstance:%s    %s\n", colorDim, colorReset, job.InstanceID)
	cmd.Printf("%sType:%s        %s\n", colorDim, colorReset, job.Type)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(job.Status))
	cmd.Printf("%sAttempts:%s    %d\n", colorDim, colorReset, job.Attempts)

	if job.LastError != nil {
		cmd.Printf("%sLast Error:%s  %s%s%s\n", colorDim, colorReset, colorRed, *job.LastError, colorReset)
	}

	cmd.Printf("%sRun At:%s      %s\n", colorDim, colorReset, formatTimeWithRelative(&job.RunAt))
	cmd.Printf("%sClaimed:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(job.ClaimedAt))
	cmd.Printf("%sCreated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&job.CreatedAt))
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "succeeded", "active":
		return colorGreen + "✓" + colorReset
	case "failed", "terminated", "expired":
		return colorRed + "✗" + colorReset
	case "running", "claimed", "provisioning":
		return colorYellow + "⏳" + colorReset
	case "pending":
		return colorCyan + "◯" + colorReset
	case "cancelled", "suspended":
		return colorDim + "⊘" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "succeeded", "active":
		return icon + " " + colorGreen + status + colorReset
	case "failed", "terminated", "expired":
		return icon + " " + colorRed + status + colorReset
	case "running", "claimed", "provisioning":
		return icon + " " + colorYellow + status + colorReset
	case "pending":
		return icon + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)
	if duration < 0 {
		duration = -duration
	}

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
}
