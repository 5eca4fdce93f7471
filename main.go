// Command sdcampaign fills category folders with images from a Stable
// Diffusion WebUI, one request at a time, until each category reaches its
// target or keeps failing.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sdcampaign/core"
	"sdcampaign/logging"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// app carries the command-line state shared by the subcommands.
type app struct {
	stdout   io.Writer
	stderr   io.Writer
	exitCode int

	envFile   string
	server    string
	configDir string
	outputDir string
	historyDB string
	logFile   string
	logLevel  string
	dev       bool

	noWait bool
	images int
	seed   uint64
}

// run executes the command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return core.ExitCodeError
	}
	return a.exitCode
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "sdcampaign [category...]",
		Short: "Run an unattended image campaign against a Stable Diffusion WebUI",
		Long: `sdcampaign resolves each category from config_<name>.json|yaml in the config
directory, then asks the WebUI for images until the category holds images_count
new files or fails three times in a row.

Without arguments the categories come from CATEGORIES, then from the config
documents found in the config directory, then from the built-in list.`,
		Args:          cobra.ArbitraryArgs,
		RunE:          a.runCampaign,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.StringVar(&a.server, "server", "", "WebUI address (overrides SD_SERVER)")
	flags.StringVar(&a.configDir, "config-dir", "", "category documents and keyword files (overrides CONFIG_DIR)")
	flags.StringVar(&a.outputDir, "output-dir", "", "parent of the category folders (overrides OUTPUT_BASE_DIR)")
	flags.StringVar(&a.historyDB, "history-db", "", `history database, or "off" (overrides HISTORY_DB)`)
	flags.StringVar(&a.logFile, "log-file", "", "JSON log file (overrides LOG_FILE)")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	flags.BoolVar(&a.dev, "dev", false, "human-readable debug logging (overrides DEV_MODE)")

	root.Flags().BoolVar(&a.noWait, "no-wait", false, "start without waiting for the WebUI to answer")
	root.Flags().IntVar(&a.images, "images", 0, "images per category when a document does not say (overrides DEFAULT_IMAGES_COUNT)")
	root.Flags().Uint64Var(&a.seed, "seed", 0, "seed for prompt and seed draws, 0 for random (overrides RANDOM_SEED)")

	root.AddCommand(a.checkCommand(), a.historyCommand(), a.versionCommand())
	return root
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(a.stdout, "sdcampaign", core.GetVersionInfo())
		},
	}
}

// loadConfig reads the dotenv file and the environment, then applies the
// flags the user set explicitly.
func (a *app) loadConfig(cmd *cobra.Command) (*core.Config, error) {
	envLoaded := true
	if err := godotenv.Load(a.envFile); err != nil {
		envLoaded = false
		if cmd.Flags().Changed("env-file") {
			return nil, fmt.Errorf("failed to load %s: %w", a.envFile, err)
		}
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("server") {
		cfg.ServerURL = a.server
	}
	if changed("config-dir") {
		cfg.ConfigDir = a.configDir
	}
	if changed("output-dir") {
		cfg.OutputBaseDir = a.outputDir
	}
	if changed("history-db") {
		cfg.HistoryDB = a.historyDB
	}
	if changed("log-file") {
		cfg.LogFile = a.logFile
	}
	if changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if changed("dev") {
		cfg.DevMode = a.dev
	}
	if changed("images") {
		cfg.DefaultImagesPerCategory = a.images
	}
	if changed("seed") {
		cfg.RandomSeed = a.seed
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !envLoaded {
		fmt.Fprintf(a.stderr, "Warning: %s not found, using the process environment\n", a.envFile)
	}
	return cfg, nil
}

// newLogger builds the process logger from cfg.
func (a *app) newLogger(cfg *core.Config) (*logging.Logger, error) {
	level := logging.ParseLogLevelString(cfg.LogLevel, logging.InfoLevel)
	logger, err := logging.NewLogger(level, cfg.DevMode, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Debug("configuration loaded",
		zap.String("server", cfg.ServerURL),
		zap.String("config_dir", cfg.ConfigDir),
		zap.String("output_dir", cfg.OutputBaseDir),
		zap.String("history_db", cfg.HistoryDB),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("retry_backoff", cfg.RetryBackoff),
		zap.Duration("request_interval", cfg.RequestInterval))
	return logger, nil
}
