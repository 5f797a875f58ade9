package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shared-context/mcp-server/internal/identity"
)

var generateKeysCmd = &cobra.Command{
	Use:   "generate-keys",
	Short: "Generate a fresh JWT_SECRET_KEY/JWT_ENCRYPTION_KEY pair",
	RunE: func(_ *cobra.Command, _ []string) error {
		secret, err := identity.GenerateSecret(32)
		if err != nil {
			return fmt.Errorf("generate signing secret: %w", err)
		}

		encKey := make([]byte, 32)
		if _, err := rand.Read(encKey); err != nil {
			return fmt.Errorf("generate encryption key: %w", err)
		}

		fmt.Printf("JWT_SECRET_KEY=%s\n", secret)
		fmt.Printf("JWT_ENCRYPTION_KEY=%s\n", base64.RawURLEncoding.EncodeToString(encKey))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(generateKeysCmd)
}
