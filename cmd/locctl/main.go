package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	timeout    int
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "locctl",
		Short: "locctl - content location service CLI",
		Long:  `locctl inspects and manipulates the global content location metadata held by a running locstored node`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:9380", "Server address")
	rootCmd.PersistentFlags().IntVar(&timeout, "timeout", 30, "Request timeout in seconds")

	// Add subcommands
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(masterCmd())
	rootCmd.AddCommand(locationsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
