package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"syndrodm/src/helpers"
	"syndrodm/src/server"
	"syndrodm/src/settings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "syndrodm",
	Short: "Object-document layer with schemas, population and hooks",
	Long:  `syndrodm declares collection schemas, resolves references between collections and serves them over REST.`,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		args := settings.GetSettings()
		cfg, err := loadConfig(args)
		if err != nil {
			return err
		}
		logger, err := helpers.NewLogger(cfg.Server.Debug || args.Verbose)
		if err != nil {
			return err
		}
		defer logger.Sync()

		if snapshot, err := cfg.Clone(); err == nil {
			snapshot.Server.Auth.Key = ""
			for i := range snapshot.Server.Auth.Users {
				snapshot.Server.Auth.Users[i].Password = "***"
			}
			logger.Debugw("effective config", "config", snapshot)
		}

		ctx := cmd.Context()
		eng, err := openEngine(ctx, cfg, logger)
		if err != nil {
			return err
		}
		users, err := openUsers(cfg.Server.Auth, logger)
		if err != nil {
			_ = eng.Close(ctx)
			return err
		}

		srv := server.NewServer(eng, cfg.Server, users, logger)
		if err := srv.Start(); err != nil {
			return err
		}

		shutdownSignal := make(chan os.Signal, 1)
		signal.Notify(shutdownSignal, syscall.SIGINT, syscall.SIGTERM)
		<-shutdownSignal
		logger.Info("Shutting down server...")

		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(stopCtx)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query [descriptor-json|-]",
	Short: "Run one query descriptor and print the result as JSON",
	Example: `  syndrodm query --config syndrodm.yaml '{"$collection":"users","$populate":"favourite"}'
  echo '{"$collection":"widgets","$count":true,"color":"blue"}' | syndrodm query -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, argv []string) error {
		cfg, err := loadConfig(settings.GetSettings())
		if err != nil {
			return err
		}
		logger, err := helpers.NewLogger(cfg.Server.Debug)
		if err != nil {
			return err
		}
		defer logger.Sync()

		raw := []byte(argv[0])
		if argv[0] == "-" {
			raw, err = io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read descriptor: %w", err)
			}
		}
		var descriptor map[string]interface{}
		if err := json.Unmarshal(raw, &descriptor); err != nil {
			return fmt.Errorf("invalid descriptor: %w", err)
		}

		ctx := cmd.Context()
		eng, err := openEngine(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close(ctx)

		res, err := eng.QueryMap(ctx, descriptor)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(res.Value(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema <collection>",
	Short: "Print the foreign-key map of a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, argv []string) error {
		cfg, err := loadConfig(settings.GetSettings())
		if err != nil {
			return err
		}
		registry, err := cfg.Registry()
		if err != nil {
			return err
		}
		s, err := registry.Resolve(argv[0])
		if err != nil {
			return err
		}
		fks, err := s.ForeignKeys()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tKIND\tTARGET")
		for _, p := range fks.Paths() {
			fk := fks[p]
			fmt.Fprintf(w, "%s\t%s\t%s\n", fk.Path, fk.Kind, fk.Target)
		}
		return w.Flush()
	},
}

func init() {
	args := settings.GetSettings()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&args.ConfigFile, "config", "", "Path to config file")
	flags.StringVar(&args.Driver, "driver", "", "Storage driver (memory, file, mongo)")
	flags.StringVar(&args.DataDir, "datadir", "", "Directory to store data files (file driver)")
	flags.BoolVar(&args.Debug, "debug", false, "Enable debug mode")

	serveCmd.Flags().StringVar(&args.Host, "host", "", "Host name or IP address to listen on")
	serveCmd.Flags().IntVar(&args.Port, "port", 0, "Port for the HTTP server")
	serveCmd.Flags().BoolVar(&args.Verbose, "verbose", false, "Enable verbose logging")
	serveCmd.Flags().BoolVar(&args.AuthEnabled, "auth", false, "Enable authentication")

	rootCmd.AddCommand(serveCmd, queryCmd, schemaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
