package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"scrapbook-server/config"
	"scrapbook-server/core"
	"scrapbook-server/gc"
	"scrapbook-server/stores"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "", "Set the logging level: debug, info, warn, error, fatal, panic")

	serveCmd.Flags().String("listen", "", "Set the server listen address")
	rootCmd.AddCommand(serveCmd)

	sweepCmd.Flags().Duration("grace", 0, "Only delete unreferenced uploads older than this (default from config)")
	sweepCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(sweepCmd)

	rootCmd.AddCommand(listCmd)

	if err := rootCmd.Execute(); err != nil {
		logrus.Fatalf("%+v", err)
	}
}

// loadConfig reads the configuration and sets up logging. A --loglevel
// flag wins over the configured level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, errors.Wrap(err, "could not load configuration")
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := setupLogging(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStores(cfg *config.Config) (*stores.Stores, error) {
	s, err := stores.GetStores(cfg, core.RealClock{})
	if err != nil {
		return nil, errors.Wrap(err, "could not open storage")
	}
	return s, nil
}

var rootCmd = &cobra.Command{
	Use:          "scrapbook",
	Short:        "Scrapbook storage server",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.Listen = listen
		}
		grace, err := cfg.Grace()
		if err != nil {
			return err
		}

		s, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		collector := gc.NewCollector(s.Documents, s.Uploads, core.RealClock{})
		router := setupRouter(s, collector, routerOptions{
			allowedOrigins: cfg.AllowedOrigins,
			maxUploadSize:  cfg.Storage.MaxUploadSize,
			defaultGrace:   grace,
		})

		server := &http.Server{
			Addr:              cfg.Listen,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errC := make(chan error, 1)
		go func() {
			logrus.WithField("addr", cfg.Listen).Info("starting server")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errC <- err
			}
			close(errC)
		}()

		return waitForShutdown(server, errC)
	},
}

func waitForShutdown(server *http.Server, errC <-chan error) error {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(signalC)

	select {
	case err := <-errC:
		return errors.Wrap(err, "could not run server")
	case s := <-signalC:
		logrus.WithField("signal", s.String()).Info("Shutting down...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "could not shut down server")
	}
	return nil
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete uploads that no scrapbook references",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		grace, err := cfg.Grace()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("grace") {
			grace, _ = cmd.Flags().GetDuration("grace")
			if grace < 0 {
				return errors.New("grace must not be negative")
			}
		}

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			ok, err := confirm(cmd, fmt.Sprintf("Delete unreferenced uploads older than %s?", grace))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
		}

		s, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		report, err := gc.NewCollector(s.Documents, s.Uploads, core.RealClock{}).Sweep(cmd.Context(), grace)
		if err != nil {
			return errors.Wrap(err, "sweep failed")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(report), "could not print report")
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored scrapbooks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		ids, err := s.Documents.ListIDs(cmd.Context())
		if err != nil {
			return errors.Wrap(err, "could not list scrapbooks")
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

func confirm(cmd *cobra.Command, question string) (bool, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", question)
	answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && answer == "" {
		return false, nil
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}
