package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sourceplane/mapflow/internal/config"
	"github.com/sourceplane/mapflow/internal/logging"
)

var (
	configFile string
	envFile    string
	logLevel   string

	templateFile string
	paramsFile   string
	parsetFile   string
	setValues    []string
	outputFile   string
	viewSteps    string
	debugMode    bool

	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "mapflow",
	Short:         "Pipeline engine: template → step graph → mapfiles",
	Long:          "mapflow renders parameterised pipeline templates, links steps through mapfiles and runs each step's units across the node inventory",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(config.Options{ConfigFile: configFile, EnvFile: envFile})
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		l, err := logging.New(loaded.Log)
		if err != nil {
			return err
		}
		cfg, logger = loaded, l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Engine config file (default mapflow.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Env file to load (default .env if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug/info/warn/error)")

	registerRenderCommand(rootCmd)
	registerValidateCommand(rootCmd)
	registerStepsCommand(rootCmd)
	registerRunCommand(rootCmd)
	registerMapFileCommand(rootCmd)
}

// addDefinitionFlags registers the flags selecting a pipeline definition.
func addDefinitionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&templateFile, "template", "t", "", "Pipeline template file")
	cmd.Flags().StringVarP(&paramsFile, "params", "p", "", "YAML file with template variables")
	cmd.Flags().StringArrayVar(&setValues, "set", nil, "Template variable override name=value (repeatable)")
	cmd.Flags().StringVar(&parsetFile, "parset", "", "Already rendered parset (instead of --template)")
	cmd.MarkFlagsMutuallyExclusive("template", "parset")
}
