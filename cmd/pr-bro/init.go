package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/pr-bro/pkg/config"
)

const starterConfig = `# pr-bro configuration. Run "pr-bro validate" after editing.
scoring:
  base_score: 100
  age: "+1 per 1h"
  approvals: "+10 per 1"
  size:
    exclude: ["*.lock", "**/vendor/**"]
    buckets:
      - { range: "<100", effect: "x5" }
      - { range: "100-500", effect: "x1" }
      - { range: ">500", effect: "x0.5" }
  previously_reviewed: "x0.5"
queries:
  - name: Review requested
    query: "is:pr is:open review-requested:@me"
  - name: My pull requests
    query: "is:pr is:open author:@me"
    scoring:
      base_score: 50
auto_refresh_interval: 300
`

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := getApp(cmd.Context())
			if err != nil {
				return err
			}
			path := a.settings.ConfigPath
			if err := writeStarterConfig(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func writeStarterConfig(path string, force bool) error {
	if _, err := config.Parse([]byte(starterConfig)); err != nil {
		return fmt.Errorf("starter config is invalid: %w", err)
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat config: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
