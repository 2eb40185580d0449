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

package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func helpTree() *cobra.Command {
	root := &cobra.Command{Use: "procbridge", Short: "root"}
	root.PersistentFlags().Bool("verbose", false, "Verbose output")

	serve := &cobra.Command{
		Use:     "serve",
		Short:   "Serve the bridge",
		Example: "  procbridge serve --http-addr :7070",
		Run:     func(*cobra.Command, []string) {},
	}
	serve.Flags().String("http-addr", "", "HTTP listen address")
	root.AddCommand(serve)

	root.AddCommand(&cobra.Command{Use: "secret", Hidden: true, Run: func(*cobra.Command, []string) {}})

	root.SetHelpCommand(NewHelpCommand(root))
	return root
}

func runHelp(t *testing.T, args ...string) string {
	t.Helper()
	root := helpTree()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"help"}, args...))
	require.NoError(t, root.Execute())
	return buf.String()
}

func TestHelpJSON_AllCommands(t *testing.T) {
	var resp HelpResponse
	require.NoError(t, json.Unmarshal([]byte(runHelp(t, "--json")), &resp))

	assert.Nil(t, resp.Command)
	names := make([]string, 0, len(resp.Commands))
	for _, c := range resp.Commands {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "serve")
	assert.NotContains(t, names, "secret")
	require.NotEmpty(t, resp.GlobalFlags)
	assert.Equal(t, "verbose", resp.GlobalFlags[0].Name)
}

func TestHelpJSON_SingleCommand(t *testing.T) {
	var resp HelpResponse
	require.NoError(t, json.Unmarshal([]byte(runHelp(t, "serve", "--json")), &resp))

	require.NotNil(t, resp.Command)
	assert.Equal(t, "serve", resp.Command.Name)
	assert.NotEmpty(t, resp.Command.Examples)
	require.Len(t, resp.Command.Flags, 1)
	assert.Equal(t, "http-addr", resp.Command.Flags[0].Name)
	assert.Empty(t, resp.Commands)
}

func TestHelpHumanOutput(t *testing.T) {
	out := runHelp(t, "serve")
	assert.False(t, strings.HasPrefix(strings.TrimSpace(out), "{"))
	assert.Contains(t, out, "Serve the bridge")
}

func TestHelpUnknownCommand(t *testing.T) {
	root := helpTree()
	root.SetOut(new(bytes.Buffer))
	root.SetArgs([]string{"help", "nope"})
	assert.Error(t, root.Execute())
}
