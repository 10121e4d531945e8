// Package cmd holds the jterm command line interface.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "jterm",
	Short: "jterm - web terminal backend with session recording",
	Long: `# jterm

**A web terminal backend: PTY sessions over WebSocket, with recording and playback.**

## Features

- **PTY sessions** multiplexed over a single WebSocket endpoint
- **Session recording** with output coalescing and compressed storage
- **Playback exports**: asciicast, self-contained HTML player, JSON, plain text
- **Terminal attach** from the command line

## Getting Started

Run **jterm serve** to start the backend, then **jterm attach** to open a shell
through it.`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderMarkdownHelp(cmd)
	})
}

// renderMarkdownHelp renders command help through glamour, falling back to
// cobra's plain help when rendering fails.
func renderMarkdownHelp(cmd *cobra.Command) {
	var help strings.Builder

	if cmd.Long != "" {
		help.WriteString(cmd.Long)
		help.WriteString("\n\n")
	} else if cmd.Short != "" {
		help.WriteString("# " + cmd.Short)
		help.WriteString("\n\n")
	}

	help.WriteString("## Usage\n\n```bash\n")
	help.WriteString(cmd.UseLine())
	help.WriteString("\n```\n\n")

	if cmd.HasAvailableSubCommands() {
		help.WriteString("## Available Commands\n\n")
		for _, sub := range cmd.Commands() {
			if sub.IsAvailableCommand() {
				help.WriteString(fmt.Sprintf("- **%s** - %s\n", sub.Name(), sub.Short))
			}
		}
		help.WriteString("\n")
	}

	if cmd.HasAvailableFlags() {
		if usages := cmd.Flags().FlagUsages(); usages != "" {
			help.WriteString("## Flags\n\n```\n")
			help.WriteString(usages)
			help.WriteString("```\n\n")
		}
	}

	if cmd.HasParent() && cmd.InheritedFlags().HasFlags() {
		if usages := cmd.InheritedFlags().FlagUsages(); usages != "" {
			help.WriteString("## Global Flags\n\n```\n")
			help.WriteString(usages)
			help.WriteString("```\n\n")
		}
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		cmd.Help() //nolint:errcheck
		return
	}
	rendered, err := renderer.Render(help.String())
	if err != nil {
		cmd.Help() //nolint:errcheck
		return
	}
	fmt.Print(rendered)
}
