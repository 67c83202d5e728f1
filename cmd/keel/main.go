package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/keel/pkg/logger"
	"github.com/jingkaihe/keel/pkg/presenter"
)

func init() {
	viper.SetEnvPrefix("KEEL")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.keel")
	viper.AddConfigPath(".")

	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "anthropic")
	v.SetDefault("max_tokens", 8192)
	v.SetDefault("agent.max_tool_iterations", 25)
	v.SetDefault("agent.model_timeout", "5m")
	v.SetDefault("agent.history_limit", 20)
	v.SetDefault("skills.enabled", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "fmt")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
}

var rootCmd = &cobra.Command{
	Use:   "keel",
	Short: "Context-grounded coding agent",
	Long: `keel answers questions about a repository with a tool-calling model loop.
Each request is grounded in the repository layout, the conversation history
and the available skills, and streams chunks and tool activity as it runs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return err
			}
		}
		return logger.Configure(viper.GetString("log_level"), viper.GetString("log_format"))
	},
}

func main() {
	flags := rootCmd.PersistentFlags()
	flags.String("provider", "", "Model provider (openai, anthropic or google)")
	flags.String("model", "", "Model to use (overrides config)")
	flags.Int("max-tokens", 0, "Maximum tokens for a response (overrides config)")
	flags.String("profile", "", "Configuration profile to apply")
	flags.String("log-level", "", "Log level (panic, fatal, error, warn, info, debug, trace)")
	flags.String("log-format", "", "Log format (fmt or json)")
	flags.String("db-path", "", "Path of the conversation database")

	viper.BindPFlag("provider", flags.Lookup("provider"))
	viper.BindPFlag("model", flags.Lookup("model"))
	viper.BindPFlag("max_tokens", flags.Lookup("max-tokens"))
	viper.BindPFlag("profile", flags.Lookup("profile"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
	viper.BindPFlag("db_path", flags.Lookup("db-path"))

	rootCmd.AddCommand(withTracing(runCmd))
	rootCmd.AddCommand(withTracing(serveCmd))
	rootCmd.AddCommand(withTracing(treeCmd))
	rootCmd.AddCommand(withTracing(skillsCmd))
	rootCmd.AddCommand(withTracing(historyCmd))
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		presenter.Error(err, "")
		cancel()
		os.Exit(1)
	}
}
