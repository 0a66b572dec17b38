package cmd

import (
	"io"

	"github.com/spf13/cobra"
)

func readAllStdin(cmd *cobra.Command) ([]byte, error) {
	return io.ReadAll(cmd.InOrStdin())
}
