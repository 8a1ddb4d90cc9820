package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagForce bool

func init() {
	initCmd.Flags().BoolVar(&flagForce, "force", false, "Overwrite an existing config file")
}

const sampleConfig = `version: 1
network: testnet
# source_id defaults to the network name.
source_id: testnet-node-1

decoder:
  # Used until the stream announces its ApiVersion: v1, v2 or a semver.
  version_hint: v2
  max_frame_bytes: 8388608
  # Error kinds that stop a run: parse, unsupported_version, validation, internal.
  halt_on: [internal]

storage:
  db_path: casper-events.db

filters:
  - id: failed_deploys
    kinds: [DeployProcessed]
    where:
      - "success == false"
    sinks: [ops_slack]
  - id: expensive
    kinds: [DeployProcessed]
    where:
      - "cost >= cspr(100)"
    sinks: [archive]

sinks:
  - id: ops_slack
    type: slack
    webhook_url: ${SLACK_WEBHOOK_URL}
    template: "{{.Kind}} {{short_hash .Fingerprint}} {{index .Fields \"error_message\"}}"
    rate_limit:
      per_second: 1
      burst: 5
  - id: archive
    type: webhook
    url: ${ARCHIVE_URL}
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !flagForce {
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			} else if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("stat config: %w", err)
			}
		}
		if err := os.WriteFile(cfgPath, []byte(sampleConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfgPath)
		return nil
	},
}
