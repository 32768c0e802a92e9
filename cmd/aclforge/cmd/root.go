// Package cmd implements the aclforge CLI.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aclforge/aclforge/internal/compile"
	"github.com/aclforge/aclforge/internal/config"
	"github.com/aclforge/aclforge/internal/logging"

	// Registered backends.
	_ "github.com/aclforge/aclforge/internal/generator/paloalto"
)

var (
	configFiles []string
	flagCfg     config.Config
)

// Build info set from main.
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersionInfo sets the version info from build-time ldflags.
func SetVersionInfo(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("aclforge version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

var rootCmd = &cobra.Command{
	Use:   "aclforge",
	Short: "aclforge renders policy source files into vendor ACLs",
	Long: "aclforge compiles network policy source files, written against shared\n" +
		"network and service definitions, into access control configurations for\n" +
		"each platform the policy targets. Only outputs that changed are written.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFiles)
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		logCfg := logging.DefaultConfig()
		if cfg.Verbose {
			logCfg.Level = logging.LevelInfo
		}
		if cfg.Debug {
			logCfg.Level = logging.LevelDebug
		}
		log := logging.New(logCfg)
		logging.SetDefault(log)

		runner, err := compile.NewRunner(cfg, log)
		if err != nil {
			return err
		}
		if err := runner.Run(); err != nil {
			log.Error("done, with errors", "error", err)
			return err
		}
		log.Info("done")
		return nil
	},
}

// applyFlagOverrides copies every flag the user actually set over the
// file-derived config, so precedence is flags, then files, then
// defaults.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("base-directory") {
		cfg.BaseDirectory = flagCfg.BaseDirectory
	}
	if f.Changed("definitions-directory") {
		cfg.DefinitionsDirectory = flagCfg.DefinitionsDirectory
	}
	if f.Changed("policy-file") {
		cfg.PolicyFile = flagCfg.PolicyFile
	}
	if f.Changed("output-directory") {
		cfg.OutputDirectory = flagCfg.OutputDirectory
	}
	if f.Changed("optimize") {
		cfg.Optimize = flagCfg.Optimize
	}
	if f.Changed("recursive") {
		cfg.Recursive = flagCfg.Recursive
	}
	if f.Changed("debug") {
		cfg.Debug = flagCfg.Debug
	}
	if f.Changed("verbose") {
		cfg.Verbose = flagCfg.Verbose
	}
	if f.Changed("ignore-directories") {
		cfg.IgnoreDirectories = flagCfg.IgnoreDirectories
	}
	if f.Changed("max-renderers") {
		cfg.MaxRenderers = flagCfg.MaxRenderers
	}
	if f.Changed("shade-check") {
		cfg.ShadeCheck = flagCfg.ShadeCheck
	}
	if f.Changed("exp-info") {
		cfg.ExpInfo = flagCfg.ExpInfo
	}
}

func init() {
	defaults := config.Default()
	f := rootCmd.Flags()
	f.StringArrayVar(&configFiles, "config-file", nil, "yaml configuration file, repeatable; later files override earlier ones")
	f.StringVar(&flagCfg.BaseDirectory, "base-directory", defaults.BaseDirectory, "base directory of the policy tree")
	f.StringVar(&flagCfg.DefinitionsDirectory, "definitions-directory", defaults.DefinitionsDirectory, "directory holding the network and service definitions")
	f.StringVar(&flagCfg.PolicyFile, "policy-file", "", "render this single policy file instead of walking the base directory")
	f.StringVar(&flagCfg.OutputDirectory, "output-directory", defaults.OutputDirectory, "directory to write the rendered configurations into")
	f.BoolVar(&flagCfg.Optimize, "optimize", defaults.Optimize, "collapse addresses and merge port ranges before rendering")
	f.BoolVar(&flagCfg.Recursive, "recursive", defaults.Recursive, "descend recursively from the base directory")
	f.BoolVar(&flagCfg.Debug, "debug", false, "debug messages")
	f.BoolVar(&flagCfg.Verbose, "verbose", false, "verbose messages")
	f.StringSliceVar(&flagCfg.IgnoreDirectories, "ignore-directories", defaults.IgnoreDirectories, "directory names skipped during policy discovery")
	f.IntVar(&flagCfg.MaxRenderers, "max-renderers", defaults.MaxRenderers, "maximum number of policies rendered concurrently")
	f.BoolVar(&flagCfg.ShadeCheck, "shade-check", defaults.ShadeCheck, "fail when a term is completely shaded by a prior term")
	f.IntVar(&flagCfg.ExpInfo, "exp-info", defaults.ExpInfo, "warn when a term expires within this many weeks")

	rootCmd.Version = buildVersion
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
