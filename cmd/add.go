package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rebel-tools/groupsync/internal/appconfig"
	"github.com/rebel-tools/groupsync/internal/groups"
	"github.com/rebel-tools/groupsync/internal/mailer"
	"github.com/rebel-tools/groupsync/internal/metrics"
	"github.com/rebel-tools/groupsync/internal/plugins"
	"github.com/rebel-tools/groupsync/internal/roster"
	"github.com/rebel-tools/groupsync/internal/workflows"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	rosterPath  string
	silent      bool
	metricsFile string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Bulk add new rebels to their groups",
	Long: `Reads the roster and signs every valid person up to the master group, the
working groups and the subgroups named on their row. Coleads, new members and
the subgroup shepherd are emailed unless --silent is given.`,
	Run: func(cmd *cobra.Command, args []string) {
		setLogging(logLevel)
		ctx := log.Logger.WithContext(context.Background())

		fmt.Printf("\nLoading Configuration file at %s\n\n", configPath)
		appCfg, err := appconfig.LoadConfig(configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
		appCfg.Silent = appCfg.Silent || silent

		recorder := metrics.NewRecorder()

		manager, err := plugins.NewManager(appCfg, plugins.WithMetrics(recorder))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialise backend")
		}

		deps := groups.Deps{Resolver: manager, Metrics: recorder, Out: os.Stdout}

		// The mailer is only built when notifications will go out, and is
		// verified up front so a bad password fails before anyone is added.
		if !appCfg.Silent {
			m, err := mailer.New(appCfg.BotEmail)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to configure email")
			}
			if err := m.Init(ctx); err != nil {
				log.Fatal().Err(err).Msg("failed to connect to email service")
			}
			deps.Sender = m
		}

		records, err := roster.ReadFile(rosterPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read roster")
		}

		runErr := workflows.AddPersons(ctx, appCfg, deps, records)

		if metricsFile != "" {
			if err := recorder.WriteTextfile(metricsFile); err != nil {
				log.Error().Err(err).Str("path", metricsFile).Msg("failed to write metrics")
			}
		}

		if runErr != nil {
			log.Error().Err(runErr).Msg("some groups could not be resolved")
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")
	addCmd.Flags().StringVarP(&rosterPath, "roster", "x", "", "path to the roster CSV file")
	addCmd.Flags().BoolVarP(&silent, "silent", "s", false, "do not send any email")
	addCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file when done")
	_ = addCmd.MarkFlagRequired("config")
	_ = addCmd.MarkFlagRequired("roster")
}
