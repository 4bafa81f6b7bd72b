package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/r-file/rfile/internal/client"
	"github.com/r-file/rfile/internal/logger"
)

var joinOutputDir string

var joinCmd = &cobra.Command{
	Use:   "join room-code",
	Short: "join a room and receive a file",
	Long:  "join the room identified by room-code and save the file the host sends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return client.JoinReceive(ctx, signalingURL(), args[0], joinOutputDir, logger.NewLogger())
	},
}

func init() {
	joinCmd.Flags().StringVarP(&joinOutputDir, "output", "o", ".", "directory to save the received file in")
}
