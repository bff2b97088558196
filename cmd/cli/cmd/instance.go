package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var instanceCmd = &cobra.Command{
	Use:   "instance [instance_id]",
	Short: "Show a cluster instance",
	Long: `Retrieve the state of a cluster instance: definition, pinned version,
lifecycle status, and parameters. With --events, also print the audit trail.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		instanceID := args[0]

		showEvents, _ := cmd.Flags().GetBool("events")

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API key not found. Please set it using the --token flag or the CLUSTERPLANE_TOKEN environment variable")
			return
		}

		client := NewPlaneClient(url, token)
		inst, err := client.GetInstance(instanceID)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		icon := statusIcon(inst.Status)
		cmd.Printf("%s %sInstance Details%s\n", icon, colorBold, colorReset)
		cmd.Println("──────────────────────────────")
		cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, inst.ID)
		cmd.Printf("%sDefinition:%s  %s\n", colorDim, colorReset, inst.DefinitionID)
		cmd.Printf("%sVersion:%s     %d\n", colorDim, colorReset, inst.Version)
		cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(inst.Status))
		for key, value := range inst.Params {
			cmd.Printf("%sParam:%s       %s=%s\n", colorDim, colorReset, key, value)
		}
		cmd.Printf("%sExpires:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(inst.ExpiresAt))
		cmd.Printf("%sCreated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&inst.CreatedAt))

		if !showEvents {
			return
		}

		events, err := client.GetEvents(instanceID)
		if err != nil {
			cmd.Printf("Failed to fetch events: %v\n", err)
			return
		}

		cmd.Printf("\n%sEvents%s\n", colorBold, colorReset)
		cmd.Println("──────────────────────────────")
		for _, ev := range events {
			cmd.Printf("%s  %s%s%s  %s\n",
				ev.CreatedAt.Format("2006-01-02 15:04:05"),
				colorCyan, ev.Type, colorReset,
				string(ev.Payload))
		}
	},
}

// lifecycleCmd builds suspend/resume/terminate as thin wrappers over
// the same endpoint shape.
func lifecycleCmd(use, short, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [instance_id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			instanceID := args[0]

			url := viper.GetString("url")
			token := viper.GetString("token")

			if token == "" {
				cmd.Println("API key not found. Please set it using the --token flag or the CLUSTERPLANE_TOKEN environment variable")
				return
			}

			client := NewPlaneClient(url, token)
			if err := client.do("POST", "/instances/"+instanceID+"/"+use, nil, nil); err != nil {
				if apiErr, ok := err.(*APIError); ok {
					cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
				} else {
					cmd.Printf("Error: %v\n", err)
				}
				return
			}

			cmd.Printf("✓ Instance %s %s\n", instanceID, done)
		},
	}
}

func init() {
	instanceCmd.Flags().BoolP("events", "e", false, "Also print the instance audit trail")

	rootCmd.AddCommand(instanceCmd)
	rootCmd.AddCommand(lifecycleCmd("suspend", "Suspend an active instance", "suspended"))
	rootCmd.AddCommand(lifecycleCmd("resume", "Resume a suspended instance", "resumed"))
	rootCmd.AddCommand(lifecycleCmd("terminate", "Terminate an instance", "terminated"))
}
