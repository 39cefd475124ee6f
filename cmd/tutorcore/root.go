package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tutorcore",
	Short: "Voice-enabled tutoring conversations from the terminal",
	Long: `tutorcore runs tutoring conversations: ask questions by text or voice,
get answers grounded in your organization's documents, and have replies
read back to you. Conversations and study sessions are persisted locally
or to a shared Postgres database.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/tutorcore/config.yaml)")
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(conversationsCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
