package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "coris",
	Short: "CORIS is a personal bill-tracking service",
	Long: `CORIS tracks recurring bills against paycheck windows: define bill
templates, link them to your pay schedule, and see what each paycheck has
to cover. Runs the HTTP API (server) and the reminder batch job (reminders).`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
