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

/*
Package cli provides the root command and shared configuration for procbridge's CLI.

This package creates the main Cobra command tree and handles global concerns like
version information, persistent flags, and error handling. Individual commands
are implemented in the internal/commands subpackages.

# Command Tree

	procbridge
	├── serve         Bridge processes over NDJSON on stdio (and optionally HTTP)
	├── mcp-server    Bridge processes as MCP tools over stdio
	├── attach        Run one process attached to the terminal
	├── config        Show the effective configuration
	├── version       Show version
	└── help          Show help

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(serve.NewCommand())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
	    cli.HandleExitError(err)
	}

# Global Flags

	--verbose, -v    Enable debug logging
	--quiet, -q      Only log warnings and errors
	--json           Output in JSON format
	--config         Path to config file
	--log-level      Override the configured log level

# Exit Codes

  - 0: Success
  - 1: General error
  - 2: Invalid configuration
  - 3: Process could not be started
  - 4: Attached process exited unsuccessfully
*/
package cli
