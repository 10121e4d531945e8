package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jterm-dev/jterm/internal/config"
	"github.com/jterm-dev/jterm/internal/logger"
	"github.com/jterm-dev/jterm/internal/server"
)

var (
	serveConfigPath string
	serveAddr       string
	serveDev        bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the jterm backend",
	Long: `# jterm serve

Starts the terminal backend: the WebSocket endpoint, the REST API, and the
recording store.

## Example

` + "```bash\njterm serve --addr :8437\n```",
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to a YAML config file")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "Developer mode: human readable logs")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if serveDev {
		cfg.Dev = true
	}
	logger.Configure(logger.LevelFromEnv(cfg.Dev), cfg.Dev)

	srv, err := server.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		logger.Infof("received %s, shutting down", s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
