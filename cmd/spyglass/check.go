package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spyglass-rpc/spyglass/internal/transport"
)

var checkCmd = &cobra.Command{
	Use:   "check <address>",
	Short: "Verify an endpoint address parses and resolves",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address := args[0]

		if err := transport.CheckEndpoint(cmd.Context(), address); err != nil {
			return fmt.Errorf("endpoint %s invalid: %w", address, err)
		}

		return printJSON(map[string]any{"valid": true})
	},
}
