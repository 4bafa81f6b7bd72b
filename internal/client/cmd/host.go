package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/r-file/rfile/internal/client"
	"github.com/r-file/rfile/internal/logger"
)

var hostCmd = &cobra.Command{
	Use:   "host file-path",
	Short: "create a room and send a file",
	Long:  "create a room, print its code and send the file to whoever joins with that code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return client.HostSend(ctx, signalingURL(), args[0], logger.NewLogger())
	},
}
