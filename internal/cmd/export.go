package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jterm-dev/jterm/internal/config"
	"github.com/jterm-dev/jterm/internal/recording"
	"github.com/jterm-dev/jterm/internal/storage"
)

var (
	exportConfigPath string
	exportFormat     string
	exportOutput     string
)

var exportCmd = &cobra.Command{
	Use:   "export <recording-id>",
	Short: "Export a recording from the local store",
	Long: `# jterm export

Renders a stored recording in a playback format, straight from the local
recording store. Formats: **json**, **asciicast**, **html**, **text**.

## Examples

` + "```bash\njterm export 4f6b... --format asciicast -o session.cast\njterm export 4f6b... --format html -o player.html\n```",
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportConfigPath, "config", "c", "", "Path to a YAML config file")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "asciicast", "Export format: json | asciicast | html | text")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (stdout when empty)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := recording.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	cfg, err := config.Load(exportConfigPath)
	if err != nil {
		return err
	}

	store, err := storage.Open(cmd.Context(), cfg.DatabasePath(), cfg.Recording.MaxEvents)
	if err != nil {
		return err
	}
	defer store.Close()

	recs := recording.NewRegistry(cfg.Recording, store)
	defer recs.Shutdown()

	data, rec, err := recs.Export(args[0], format)
	if err != nil {
		return err
	}

	if exportOutput == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(exportOutput, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", exportOutput, err)
	}
	fmt.Fprintf(os.Stderr, "exported recording %s (%d bytes) to %s\n", rec.RecordingID, len(data), exportOutput)
	return nil
}
