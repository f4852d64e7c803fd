// InsightAgent answers natural-language questions about SEC filings.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seenimoa/insightagent/api"
	"github.com/seenimoa/insightagent/internal/config"
	"github.com/seenimoa/insightagent/internal/pipeline"
	"github.com/seenimoa/insightagent/internal/xbrl"
	"github.com/seenimoa/insightagent/pkg/models"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "insightagent",
	Short: "InsightAgent: ask questions about SEC filings",
	Long: `InsightAgent turns a question such as "What was Apple's net income in 2022?"
into a structured intent, locates the matching 10-K or 10-Q on SEC EDGAR and
extracts the reported value from the filing's inline XBRL.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(metricCmd)
	rootCmd.AddCommand(filingCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(factsCmd)
	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("InsightAgent %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Ask Command ---

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a natural-language question about a filing",
	Long: `Parse the question with the configured LLM, locate the filing and extract
the metric.

Examples:
  insightagent ask "What was Apple's net income in 2022?"
  insightagent ask --verbose "Microsoft total assets 2023 10-K"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		asJSON, _ := cmd.Flags().GetBool("json")

		req := pipeline.Request{Query: strings.Join(args, " ")}
		if verbose {
			req.Observer = pipeline.ObserverFunc(printEvent)
		}
		res := a.orch.Run(cmd.Context(), req)
		return report(res, asJSON)
	},
}

func init() {
	askCmd.Flags().Bool("json", false, "print the full pipeline result as JSON")
	askCmd.Flags().BoolP("verbose", "v", false, "print stage events as they happen")
}

// --- Metric Command ---

var metricCmd = &cobra.Command{
	Use:   "metric",
	Short: "Extract a metric from a filing without the LLM",
	Long: `Run the pipeline with a structured intent, skipping natural-language parsing.

Example:
  insightagent metric --ticker AAPL --metric NetIncome --year 2022`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		in, err := intentFlags(cmd)
		if err != nil {
			return err
		}
		metric, _ := cmd.Flags().GetString("metric")
		if metric == "" {
			return fmt.Errorf("--metric is required")
		}
		in.MetricName = metric
		asJSON, _ := cmd.Flags().GetBool("json")
		return report(a.orch.Query(cmd.Context(), in), asJSON)
	},
}

func init() {
	addIntentFlags(metricCmd)
	metricCmd.Flags().String("metric", "", "metric name, e.g. Revenue or NetIncome")
	metricCmd.Flags().Bool("json", false, "print the full pipeline result as JSON")
}

// --- Filing Command ---

var filingCmd = &cobra.Command{
	Use:   "filing",
	Short: "Locate a filing and print where it lives",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		in, err := intentFlags(cmd)
		if err != nil {
			return err
		}
		latest, _ := cmd.Flags().GetBool("latest")

		ctx := cmd.Context()
		var doc *filingSummary
		if latest {
			from := in.Year
			if from == 0 {
				from = time.Now().Year()
			}
			fd, err := a.retriever.RetrieveLatest(ctx, in.CompanyIdentifier, in.FilingType, from, cfg.Pipeline.LatestLookback)
			if err != nil {
				return err
			}
			doc = summarize(fd)
		} else {
			fd, err := a.retriever.Retrieve(ctx, in.CompanyIdentifier, in.Year, in.FilingType)
			if err != nil {
				return err
			}
			doc = summarize(fd)
		}
		return printJSON(doc)
	},
}

func init() {
	addIntentFlags(filingCmd)
	filingCmd.Flags().Bool("latest", false, "walk back from --year (default: this year) to the newest filing")
}

// --- Recent Command ---

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recent filings from a company's EDGAR feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		ticker, _ := cmd.Flags().GetString("ticker")
		form, _ := cmd.Flags().GetString("form")
		limit, _ := cmd.Flags().GetInt("limit")

		cik, err := a.registry.Lookup(ticker)
		if err != nil {
			return err
		}
		entries, err := a.client.RecentFilings(cmd.Context(), cik, strings.ToUpper(form), limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No filings in feed.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %-6s %s\n", e.Updated.Format("2006-01-02"), e.Form, e.Title)
			fmt.Printf("            %s\n", e.Link)
		}
		return nil
	},
}

func init() {
	recentCmd.Flags().String("ticker", "", "company ticker, e.g. AAPL")
	recentCmd.Flags().String("form", "", "restrict to one form type, e.g. 10-K")
	recentCmd.Flags().Int("limit", 10, "maximum number of entries")
	_ = recentCmd.MarkFlagRequired("ticker")
}

// --- Facts Command ---

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "List the inline XBRL facts of a filing",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		in, err := intentFlags(cmd)
		if err != nil {
			return err
		}
		filter, _ := cmd.Flags().GetString("filter")

		fd, err := a.retriever.Retrieve(cmd.Context(), in.CompanyIdentifier, in.Year, in.FilingType)
		if err != nil {
			return err
		}
		doc, err := xbrl.ParseString(fd.Text)
		if err != nil {
			return err
		}
		facts := filterFacts(doc.Facts(), filter)
		fmt.Printf("%s %s %d: %d of %d facts\n", fd.Identifier, fd.Form, fd.Year, len(facts), doc.Len())
		for _, f := range facts {
			fmt.Printf("  %-60s %20s %s\n", f.Name, f.Value, f.Unit)
		}
		return nil
	},
}

func init() {
	addIntentFlags(factsCmd)
	factsCmd.Flags().String("filter", "", "only list facts whose tag contains this text")
}

// --- Tags Command ---

var tagsCmd = &cobra.Command{
	Use:   "tags [metric]",
	Short: "Show the XBRL tags tried for a metric",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver := xbrl.NewResolver(cfg.Tags)
		if len(args) == 1 {
			for i, tag := range resolver.Resolve(args[0]) {
				fmt.Printf("  %d. %s\n", i+1, tag)
			}
			return nil
		}
		for _, m := range resolver.Metrics() {
			fmt.Printf("  %-22s %s\n", m, strings.Join(resolver.Resolve(m), ", "))
		}
		return nil
	},
}

// --- Batch Command ---

var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Run every query listed in a YAML file",
	Long: `Run a batch of queries concurrently. The file lists free-text questions
and structured intents under "queries":

  queries:
    - "What was Apple's net income in 2022?"
    - {ticker: MSFT, metric: Revenue, year: 2023, form: 10-K}`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := readBatchFile(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(f.needsParser())
		if err != nil {
			return err
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = cfg.Pipeline.BatchConcurrency
		}

		results := pipeline.RunBatch(cmd.Context(), a.orch, f.requests(), concurrency)
		return printJSON(results)
	},
}

func init() {
	batchCmd.Flags().Int("concurrency", 0, "parallel runs (default: pipeline.batch_concurrency)")
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		if a.router == nil {
			a.log.Warn("No LLM provider configured; /api/v1/ask will fail until one is set")
		}

		opts := []api.Option{
			api.WithFeed(a.client),
			api.WithLogger(a.log),
			api.WithVersion(version),
		}
		if a.router != nil {
			opts = append(opts, api.WithHealthChecker(a.router))
		}
		srv := api.NewServer(cfg, a.orch, opts...)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("🌐 Starting InsightAgent API server on %s\n", cfg.API.Addr())
		return srv.ListenAndServe(ctx, cfg.API.Addr())
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  InsightAgent System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Time:          %s\n", time.Now().Format(time.RFC1123))
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    LLM Provider:  %s (model: %s)\n", cfg.LLM.Primary, cfg.LLM.Model)
		fmt.Printf("    EDGAR:         %s (delay %s)\n", cfg.EDGAR.BaseURL, cfg.EDGAR.RequestDelay())
		registryFile := cfg.Registry.File
		if registryFile == "" {
			registryFile = "built-in"
		}
		fmt.Printf("    Registry:      %s\n", registryFile)
		fmt.Printf("    Batch:         %d concurrent\n", cfg.Pipeline.BatchConcurrency)
		fmt.Printf("    API Server:    %s\n", cfg.API.Addr())
		fmt.Println()

		fmt.Println("  API Keys:")
		for _, k := range config.CheckAPIKeys(cfg) {
			status := "❌ not set"
			if k.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

// ── Helpers ──

func addIntentFlags(cmd *cobra.Command) {
	cmd.Flags().String("ticker", "", "company ticker, e.g. AAPL")
	cmd.Flags().Int("year", 0, "fiscal year of the filing")
	cmd.Flags().String("form", models.DefaultFilingType, "filing type, 10-K or 10-Q")
	_ = cmd.MarkFlagRequired("ticker")
}

// intentFlags reads --ticker, --year and --form into a normalized intent.
func intentFlags(cmd *cobra.Command) (models.Intent, error) {
	ticker, _ := cmd.Flags().GetString("ticker")
	year, _ := cmd.Flags().GetInt("year")
	form, _ := cmd.Flags().GetString("form")
	in := models.Intent{CompanyIdentifier: ticker, Year: year, FilingType: form}.Normalize()
	if in.CompanyIdentifier == "" {
		return in, fmt.Errorf("--ticker is required")
	}
	return in, nil
}

func printEvent(e pipeline.Event) {
	line := fmt.Sprintf("  [%s] %-16s %s", e.At.Format("15:04:05.000"), e.Stage, e.Status)
	if e.Message != "" {
		line += ": " + e.Message
	}
	fmt.Fprintln(os.Stderr, line)
}

// report prints a pipeline result and turns a failed run into a non-zero exit.
func report(res models.PipelineResult, asJSON bool) error {
	if asJSON {
		if err := printJSON(res); err != nil {
			return err
		}
	} else if res.Success {
		v := res.ExtractedValue
		fmt.Printf("%s %s (%s %d): %s", v.Ticker, v.Metric, v.FilingType, v.Year, v.Value)
		if v.Unit != "" {
			fmt.Printf(" %s", v.Unit)
		}
		fmt.Printf("\n  tag: %s\n", v.TagUsed)
	}
	if !res.Success {
		return fmt.Errorf("%s [%s]", res.Error, res.ErrorKind)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

