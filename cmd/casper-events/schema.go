package main

import (
	"github.com/spf13/cobra"

	"github.com/devblac/casper-events/internal/event"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of the canonical envelope",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := cmd.OutOrStdout().Write(event.ContractSchema())
		return err
	},
}
