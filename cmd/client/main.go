package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cbodonnell/harbor/pkg/config"
	"github.com/cbodonnell/harbor/pkg/version"
	"github.com/spf13/cobra"
)

type flags struct {
	configPath string
	url        string
	name       string
	compress   bool
	logLevel   string
	apiAddr    string
	noAPI      bool
	storage    string
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:           "harbor-client",
		Short:         "Headless harbor client: presence, chat and queries from the terminal",
		Version:       version.Get(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.InOrStdin())
		},
	}

	bindFlags(cmd, f)
	return cmd
}

func bindFlags(cmd *cobra.Command, f *flags) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to the config file (default ./harbor.yaml)")
	cmd.Flags().StringVar(&f.url, "url", "", "websocket url of the server")
	cmd.Flags().StringVar(&f.name, "name", "", "display name to announce")
	cmd.Flags().BoolVar(&f.compress, "compress", false, "send zstd-compressed frames")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level (error, warn, info, debug, trace)")
	cmd.Flags().StringVar(&f.apiAddr, "api-addr", "", "listen address of the status api")
	cmd.Flags().BoolVar(&f.noAPI, "no-api", false, "disable the status api")
	cmd.Flags().StringVar(&f.storage, "storage", "", "storage driver (none, sqlite, postgres)")
}

// loadConfig reads the config file and env, then applies the flags that were set.
func loadConfig(cmd *cobra.Command, f *flags) (config.Config, error) {
	cfg, _, err := config.Load(nil, f.configPath)
	if err != nil {
		return cfg, err
	}

	changed := cmd.Flags().Changed
	if changed("url") {
		cfg.Server.URL = f.url
	}
	if changed("name") {
		cfg.Player.Name = f.name
	}
	if changed("compress") {
		cfg.Server.Compress = f.compress
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("api-addr") {
		cfg.API.Addr = f.apiAddr
	}
	if changed("no-api") {
		cfg.API.Enabled = !f.noAPI
	}
	if changed("storage") {
		cfg.Storage.Driver = f.storage
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
