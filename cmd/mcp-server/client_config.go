package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var supportedClients = map[string]bool{
	"claude":   true,
	"cursor":   true,
	"windsurf": true,
}

var clientConfigCmd = &cobra.Command{
	Use:   "client-config <claude|cursor|windsurf>",
	Short: "Print a static client config snippet for a known MCP client",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		client := args[0]
		if !supportedClients[client] {
			return validationError{fmt.Errorf("unsupported client %q", client)}
		}
		snippet := map[string]interface{}{
			"mcpServers": map[string]interface{}{
				"shared-context": map[string]interface{}{
					"command": "mcp-server",
					"args":    []string{"serve", "--stdio"},
					"env": map[string]string{
						"JWT_SECRET_KEY":     "<fill in>",
						"JWT_ENCRYPTION_KEY": "<fill in>",
					},
				},
			},
		}
		out, err := json.MarshalIndent(snippet, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clientConfigCmd)
}
