// Package cmd wires the rfile CLI commands together.
package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:  "rfile",
	Long: "rfile shares files directly between two peers, using a rendezvous server only to match them up",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "rendezvous server base URL")
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(fetchCmd)
}

// signalingURL derives the websocket endpoint from the server base URL.
func signalingURL() string {
	ws := serverURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimSuffix(ws, "/") + "/ws"
}
