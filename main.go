package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/clinic-agent/server/internal/core"
	logx "github.com/clinic-agent/server/pkg/logger"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "clinic-agent",
	Short: "WhatsApp assistant that books and manages clinic appointments",
	Long: `clinic-agent answers WhatsApp messages for a medical clinic.

It identifies the sender, routes the message through the agent graph, books
appointments against the clinic database, sends reminders and mirrors the
agenda to Google Calendar.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			logx.Warn().Err(err).Str("file", envFile).Msg("could not load env file")
		}
		logx.Init(logx.LoggerOpts{
			Environment: core.ParseEnvironment(os.Getenv("ENVIRONMENT")),
			Service:     "clinic-agent",
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.AddCommand(serveCmd, migrateCmd, remindersCmd, syncCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logx.Error().Err(err).Msg("command failed")
		stop()
		os.Exit(1)
	}
}
