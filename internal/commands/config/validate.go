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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/procbridge/internal/commands/shared"
	"github.com/tombee/procbridge/internal/config"
)

// ValidationResult represents the result of config validation.
type ValidationResult struct {
	Path     string   `json:"path"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewValidateCommand creates the 'config validate' subcommand.
func NewValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the configuration file.

Checks performed:
  - YAML syntax and field values
  - Unknown keys
  - HTTP listen address exposure
  - Default working directory exists

With --strict, warnings are treated as errors.`,
		Example: `  # Validate the default config file
  procbridge config validate

  # Validate a specific file with warnings as errors
  procbridge --config ./bridge.yaml config validate --strict`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return shared.NewConfigError("failed to resolve config path", err)
			}
			result := validateFile(path)
			return outputValidationResult(cmd.OutOrStdout(), result, strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")

	return cmd
}

// validateFile loads path and collects errors and warnings about it.
func validateFile(path string) ValidationResult {
	result := ValidationResult{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("cannot read config file: %v", err))
		return result
	}

	cfg, err := config.Load(path)
	if err != nil {
		result.Errors = append(result.Errors, errorDetail(err))
		return result
	}

	result.Warnings = append(result.Warnings, unknownKeys(data)...)
	result.Warnings = append(result.Warnings, checkExposure(cfg)...)
	if dir := cfg.Spawn.Dir; dir != "" {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			result.Warnings = append(result.Warnings, fmt.Sprintf("spawn.dir %q is not an accessible directory", dir))
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// errorDetail unwraps a load error to the underlying validation message.
func errorDetail(err error) string {
	if cause := errors.Unwrap(err); cause != nil {
		return cause.Error()
	}
	return err.Error()
}

// unknownKeys re-decodes data strictly so misspelled keys surface.
func unknownKeys(data []byte) []string {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg config.Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			return typeErr.Errors
		}
		return []string{err.Error()}
	}
	return nil
}

// checkExposure warns when a control surface listens beyond loopback.
func checkExposure(cfg *config.Config) []string {
	var warnings []string
	for key, addr := range map[string]string{
		"http.addr":    cfg.HTTP.Addr,
		"metrics.addr": cfg.Metrics.Addr,
	} {
		if addr != "" && !isLoopback(addr) {
			warnings = append(warnings, fmt.Sprintf("%s %q is reachable from other hosts", key, addr))
		}
	}
	return warnings
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// outputValidationResult prints the result and returns an error carrying
// the config exit code when validation fails.
func outputValidationResult(w io.Writer, result ValidationResult, strict bool) error {
	if shared.GetJSON() {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
	} else {
		if result.Valid {
			fmt.Fprintf(w, "Configuration is valid: %s\n", result.Path)
		} else {
			fmt.Fprintf(w, "Configuration validation failed: %s\n", result.Path)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  error: %s\n", e)
		}
		for _, warn := range result.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warn)
		}
	}

	if !result.Valid {
		return &shared.ExitError{Code: shared.ExitConfigError}
	}
	if strict && len(result.Warnings) > 0 {
		return &shared.ExitError{
			Code:    shared.ExitConfigError,
			Message: "validation failed (strict mode: warnings treated as errors)",
		}
	}
	return nil
}
