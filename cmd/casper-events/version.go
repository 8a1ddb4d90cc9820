package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devblac/casper-events/internal/adapter"
	"github.com/devblac/casper-events/internal/version"
)

var (
	buildVersion = "dev"
	commit       = "none"
	date         = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "casper-events %s", buildVersion)
		if commit != "" && commit != "none" {
			fmt.Fprintf(out, " commit %s", commit)
		}
		if date != "" {
			fmt.Fprintf(out, " built %s", date)
		}
		fmt.Fprintln(out)

		names := make([]string, 0, version.Count)
		for _, v := range version.All() {
			names = append(names, v.String())
		}
		fmt.Fprintf(out, "schema versions: %s\n", strings.Join(names, ", "))
		for _, v := range version.All() {
			kinds := adapter.Kinds(v)
			sort.Strings(kinds)
			fmt.Fprintf(out, "  %s: %s\n", v, strings.Join(kinds, ", "))
		}
		return nil
	},
}
