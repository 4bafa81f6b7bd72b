package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/r-file/rfile/internal/client"
)

var (
	shareExpiresIn int
	sharePassword  string
)

var shareCmd = &cobra.Command{
	Use:   "share [text]",
	Short: "share a text snippet",
	Long:  "upload a text snippet to the server and print the code to retrieve it with; reads stdin when no argument is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var content string
		if len(args) == 1 {
			content = args[0]
		} else {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			content = string(data)
		}

		result, err := client.NewTextClient(serverURL).Share(content, shareExpiresIn, sharePassword)
		if err != nil {
			return err
		}

		fmt.Printf("Code: %s\n", result.Code)
		fmt.Printf("Expires: %s\n", result.ExpiresAt.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

func init() {
	shareCmd.Flags().IntVar(&shareExpiresIn, "expires", 60, "minutes until the share expires (30, 60 or 1440)")
	shareCmd.Flags().StringVar(&sharePassword, "password", "", "protect the share with a password")
}
