package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/energyreport/internal/config"
	"github.com/TobiSchelling/energyreport/internal/garmin"
	"github.com/TobiSchelling/energyreport/internal/logging"
	"github.com/TobiSchelling/energyreport/internal/pipeline"
	"github.com/TobiSchelling/energyreport/internal/server"
	"github.com/TobiSchelling/energyreport/internal/sleepcodes"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
)

var (
	okColor   = color.New(color.FgGreen)
	errColor  = color.New(color.FgRed, color.Bold)
	headColor = color.New(color.FgCyan, color.Bold)
	dimColor  = color.New(color.Faint)
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "energyreport",
	Short:   "Garmin energy reports",
	Long:    "energyreport turns Garmin body battery, sleep and stress data into an emailed HTML report with charts and an LLM written analysis.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init, version and explain
		switch cmd.Name() {
		case "init", "version", "explain":
			logger = logging.NewNop()
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Format, config.ExpandHome(cfg.Logging.File))
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		if path != "" {
			logger.Debug("Loaded config", zap.String("path", path))
		} else {
			logger.Debug("No config file found, using defaults")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(explainCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("energyreport", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/energyreport/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Set OPENAI_API_KEY and the SMTP_* variables in the environment or a .env file.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, token and report status",
	RunE: func(cmd *cobra.Command, args []string) error {
		headColor.Println("Configuration:")
		fmt.Printf("  Window: %d days\n", cfg.WindowDays)
		fmt.Printf("  Narrative: %s/%s (%s)\n", cfg.Narrative.Provider, cfg.Narrative.Model, cfg.Narrative.Format)
		fmt.Printf("  Email: %s\n", enabled(cfg.Mail.Enabled))
		if err := cfg.Validate(cfg.Mail.Enabled); err != nil {
			for _, line := range strings.Split(strings.TrimSpace(err.Error()), "\n") {
				errColor.Printf("  %s\n", strings.TrimSpace(line))
			}
		}

		headColor.Println("\nGarmin token:")
		store, err := garmin.LoadTokens(cfg.Garmin.TokenDir, cfg.Garmin.TokenBase64File)
		switch {
		case err != nil:
			errColor.Printf("  %v\n", err)
		case store.OAuth2.Expired(time.Now()) && store.CanRenew():
			okColor.Printf("  Expired %s, renewed on next run\n", humanize.Time(time.Unix(store.OAuth2.ExpiresAt, 0)))
		case store.OAuth2.Expired(time.Now()):
			errColor.Printf("  Expired %s and no OAuth1 token to renew it; log in again\n",
				humanize.Time(time.Unix(store.OAuth2.ExpiresAt, 0)))
		case store.OAuth2.ExpiresAt > 0:
			okColor.Printf("  Valid, expires %s\n", humanize.Time(time.Unix(store.OAuth2.ExpiresAt, 0)))
		default:
			okColor.Println("  Valid")
		}

		headColor.Println("\nReport:")
		reportPath := cfg.ReportPath()
		info, err := os.Stat(reportPath)
		if err != nil {
			dimColor.Printf("  None yet (%s)\n", reportPath)
			return nil
		}
		fmt.Printf("  %s\n", reportPath)
		fmt.Printf("  Written %s, %s\n", humanize.Time(info.ModTime()), humanize.Bytes(uint64(info.Size())))
		return nil
	},
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// --- run command ---

var (
	dryRun    bool
	noEmail   bool
	days      int
	outputDir string
)

var runCmd = &cobra.Command{
	Use:          "run",
	Short:        "Run the full pipeline: authenticate -> fetch -> summarize -> narrate -> charts -> report -> mail",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if days > 0 {
			cfg.WindowDays = days
		}
		if outputDir != "" {
			cfg.Output.Dir = outputDir
		}
		sendMail := cfg.Mail.Enabled && !noEmail

		if err := cfg.Validate(sendMail); err != nil {
			if !dryRun {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			errColor.Printf("Configuration problems:\n%v\n", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var result *pipeline.Result
		if dryRun {
			pipe := pipeline.New(nil, nil, nil, nil, pipeline.Options{
				WindowDays: cfg.WindowDays,
				ReportPath: cfg.ReportPath(),
				SendMail:   sendMail,
				To:         cfg.Secrets.To,
			}, logger)
			result = pipe.DryRun()
		} else {
			pipe, err := pipeline.NewFromConfig(ctx, cfg, sendMail, logger)
			if err != nil {
				return err
			}
			result = pipe.Run(ctx)
		}

		headColor.Printf("Energy report %s to %s\n", result.Start, result.End)
		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/%d: %s\n", i+1, pipeline.StepCount, step.Name)
			if step.Err != nil {
				errColor.Printf("  Error: %v\n", step.Err)
			} else {
				okColor.Printf("  %s\n", step.Summary)
			}
		}

		if err := result.Err(); err != nil {
			if errors.Is(err, garmin.ErrAuthentication) {
				fmt.Println("\nLog in to Garmin Connect again to refresh the stored tokens.")
			}
			return err
		}
		if !dryRun {
			fmt.Println("\nReport complete! Run 'energyreport serve' to view it.")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	runCmd.Flags().BoolVar(&noEmail, "no-email", false, "Write the report without emailing it")
	runCmd.Flags().IntVar(&days, "days", 0, "Override the report window (days)")
	runCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Override the output directory")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Preview the last written report in a local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, cfg.GetOutputDir(), cfg.Output.ReportName, port, logger)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// --- explain command ---

var explainCmd = &cobra.Command{
	Use:       "explain [feedback|insight] [CODE]",
	Short:     "Explain Garmin sleep feedback and insight codes",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"feedback", "insight"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			codes   []string
			explain func(string) string
		)
		switch args[0] {
		case "feedback":
			codes, explain = sleepcodes.FeedbackCodes(), sleepcodes.ExplainFeedback
		case "insight":
			codes, explain = sleepcodes.InsightCodes(), sleepcodes.ExplainInsight
		default:
			return fmt.Errorf("unknown code kind %q, want feedback or insight", args[0])
		}

		if len(args) == 2 {
			code := strings.ToUpper(args[1])
			text := explain(code)
			if text == code {
				return fmt.Errorf("unknown %s code %q", args[0], args[1])
			}
			fmt.Println(text)
			return nil
		}

		for _, code := range codes {
			headColor.Println(code)
			fmt.Printf("  %s\n\n", explain(code))
		}
		return nil
	},
}
