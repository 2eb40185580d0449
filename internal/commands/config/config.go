// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/procbridge/internal/commands/shared"
	"github.com/tombee/procbridge/internal/config"
)

// NewConfigCommand creates the config command with subcommands
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
		Long: `View procbridge configuration.

Subcommands:
  show     - Display the effective configuration
  path     - Show config file location
  validate - Check the config file for errors`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(NewValidateCommand())

	// If no subcommand provided, default to 'show'
	cmd.RunE = runConfigShow

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the effective configuration: file values with defaults and
environment overrides applied.

Tracing header values are masked. Use --json for machine-readable output.`,
		RunE: runConfigShow,
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file location",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return shared.NewConfigError("failed to resolve config path", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

// configPath returns the --config path or the default location.
func configPath() (string, error) {
	if p := shared.GetConfigPath(); p != "" {
		return p, nil
	}
	return config.ConfigPath()
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	path, err := configPath()
	if err != nil {
		return shared.NewConfigError("failed to resolve config path", err)
	}

	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return shared.NewConfigError("failed to load config", err)
	}

	masked := maskSensitiveConfig(cfg)
	out := cmd.OutOrStdout()

	if shared.GetJSON() {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(masked)
	}
	return outputConfigYAML(out, path, masked)
}

// maskSensitiveConfig returns a copy of cfg with tracing header values
// masked, since they usually carry credentials.
func maskSensitiveConfig(cfg *config.Config) *config.Config {
	masked := *cfg
	if len(cfg.Tracing.Headers) > 0 {
		masked.Tracing.Headers = make(map[string]string, len(cfg.Tracing.Headers))
		for k, v := range cfg.Tracing.Headers {
			masked.Tracing.Headers[k] = maskSecret(v)
		}
	}
	return &masked
}

// maskSecret shows the first and last 4 characters of long values.
func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	// Environment references are not secrets
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return v
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + strings.Repeat("*", len(v)-8) + v[len(v)-4:]
}

func outputConfigYAML(w io.Writer, path string, cfg *config.Config) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "# Configuration: %s\n", path)
	} else {
		fmt.Fprintf(w, "# Configuration: defaults (no file at %s)\n", path)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
