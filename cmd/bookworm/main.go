package main

import (
	"errors"
	"io/fs"
	"os"
	_ "time/tzdata"

	"github.com/MarcoPoloResearchLab/bookworm/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bookworm",
		Short:         "Offline-first reading tracker with snapshot sync and daily challenges",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newBookCommand(),
		newNoteCommand(),
		newChallengeCommand(),
		newStatsCommand(),
		newSyncCommand(),
		newSessionCommand(),
		newSignOutCommand(),
		newSnapshotCommand(),
		newTokenCommand(),
		newServeCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log format (console, json)")
	flags.String("data-dir", defaults.GetString("data.dir"), "Directory holding the local state database")
	flags.String("user", "", "User id that scopes snapshot sync")
	flags.String("remote-url", "", "Base URL of the snapshot server")
	flags.String("token", "", "Session token for the snapshot server")
	flags.String("sync-database", "", "SQLite snapshot database used instead of a server")
	flags.String("timezone", defaults.GetString("challenge.timezone"), "IANA timezone that defines the challenge day")

	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "data.dir", "data-dir")
	bindFlag(cmd, "sync.user_id", "user")
	bindFlag(cmd, "sync.remote_url", "remote-url")
	bindFlag(cmd, "sync.token", "token")
	bindFlag(cmd, "sync.database_path", "sync-database")
	bindFlag(cmd, "challenge.timezone", "timezone")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("bookworm")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
