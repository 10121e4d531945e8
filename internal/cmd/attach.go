package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jterm-dev/jterm/internal/client"
)

var (
	attachEndpoint string
	attachSession  string
	attachShell    string
	attachUser     string
	attachRecord   bool
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Open an interactive shell through a jterm server",
	Long: `# jterm attach

Connects to a running jterm server, creates a terminal session sized to your
local terminal, and bridges it to your stdin/stdout.

## Examples

` + "```bash\njterm attach\njterm attach --endpoint ws://remote:8437/v1/terminal/ws --record\n```",
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().StringVar(&attachEndpoint, "endpoint", "ws://localhost:8437/v1/terminal/ws", "WebSocket endpoint")
	attachCmd.Flags().StringVar(&attachSession, "session", "", "Session ID (generated when empty)")
	attachCmd.Flags().StringVar(&attachShell, "shell", "", "Shell to spawn (server default when empty)")
	attachCmd.Flags().StringVar(&attachUser, "user", "", "User ID for connection tracking")
	attachCmd.Flags().BoolVar(&attachRecord, "record", false, "Record the session")
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	return client.Attach(cmd.Context(), client.Options{
		Endpoint:  attachEndpoint,
		SessionID: attachSession,
		Shell:     attachShell,
		User:      attachUser,
		Record:    attachRecord,
	})
}
