package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/r-file/rfile/internal/client"
)

var fetchPassword string

var fetchCmd = &cobra.Command{
	Use:   "fetch code",
	Short: "fetch a shared text snippet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := client.NewTextClient(serverURL).Fetch(args[0], fetchPassword)
		if err != nil {
			return err
		}
		fmt.Print(result.Content)
		if len(result.Content) == 0 || result.Content[len(result.Content)-1] != '\n' {
			fmt.Println()
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchPassword, "password", "", "password for protected shares")
}
