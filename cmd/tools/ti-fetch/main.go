// cmd/tools/ti-fetch/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"threatintel-workers/internal/common/config"
	"threatintel-workers/internal/common/database"
	httpclient "threatintel-workers/internal/common/http"
	"threatintel-workers/internal/common/loganalytics"
	"threatintel-workers/internal/common/logger"
	"threatintel-workers/internal/models"
	"threatintel-workers/internal/threatintel"
	fetch "threatintel-workers/internal/workers/threat-intel/fetch-threat-intel-ips"
	"threatintel-workers/internal/workers/threat-intel/fetch-threat-intel-ips/queries"
)

func main() {
	fetchCmd := flag.NewFlagSet("fetch", flag.ExitOnError)
	historyCmd := flag.NewFlagSet("history", flag.ExitOnError)
	queryCmd := flag.NewFlagSet("query", flag.ExitOnError)

	// Fetch command flags
	fetchConfig := fetchCmd.String("config", "", "Path to config file (default configs/config.yaml)")
	format := fetchCmd.String("format", "text", "Output format (text, json)")
	record := fetchCmd.Bool("record", false, "Record the run in PostgreSQL")
	publish := fetchCmd.Bool("publish", false, "Publish the IP snapshot to Redis")
	requestedBy := fetchCmd.String("requested-by", "ti-fetch", "Caller recorded with the run")

	// History command flags
	historyConfig := historyCmd.String("config", "", "Path to config file (default configs/config.yaml)")
	limit := historyCmd.Int("limit", 10, "Number of runs to show")

	// Query command flags
	queryConfig := queryCmd.String("config", "", "Path to config file (default configs/config.yaml)")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "fetch":
		fetchCmd.Parse(os.Args[2:])
		if *format != "text" && *format != "json" {
			fmt.Fprintf(os.Stderr, "Error: unknown format %q\n", *format)
			fetchCmd.Usage()
			os.Exit(1)
		}
		err = runFetch(ctx, *fetchConfig, *format, *record, *publish, *requestedBy)

	case "history":
		historyCmd.Parse(os.Args[2:])
		err = runHistory(ctx, *historyConfig, *limit)

	case "query":
		queryCmd.Parse(os.Args[2:])
		err = runQuery(*queryConfig)

	default:
		help()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func help() {
	fmt.Println("Usage: ti-fetch <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  fetch    Run the threat intel query once and print the IPs")
	fmt.Println("  history  Show recent runs from PostgreSQL")
	fmt.Println("  query    Print the query text without running it")
}

func runFetch(ctx context.Context, path, format string, record, publish bool, requestedBy string) error {
	cfg, err := config.LoadThreatIntelOnly(path)
	if err != nil {
		return err
	}

	log, err := logger.NewFromConfig(config.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: "stderr"})
	if err != nil {
		return err
	}
	defer log.Sync()

	transport := httpclient.NewClient(config.GetDuration(cfg.LogAnalytics.HTTPTimeout))
	laClient, err := loganalytics.NewClient(cfg.ThreatIntel, transport)
	if err != nil {
		return err
	}
	api := threatintel.NewAPI(cfg.ThreatIntel, laClient)

	handlerConfig := fetch.LoadConfig()
	handlerConfig.QueryTimeout = config.GetDuration(cfg.LogAnalytics.QueryTimeout)
	handlerConfig.SnapshotTTL = time.Duration(cfg.Database.Redis.SnapshotTTL) * time.Second

	var publisher fetch.SnapshotPublisher
	if publish {
		redis, err := database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		defer redis.Close()
		if err := redis.Ping(ctx); err != nil {
			return err
		}
		publisher = redis
	}

	pg, err := openPostgres(ctx, cfg, record)
	if err != nil {
		return err
	}
	var handler *fetch.Handler
	if pg != nil {
		defer pg.Close()
		handler = fetch.NewHandler(handlerConfig, api, pg.DB, publisher, nil, log)
	} else {
		handler = fetch.NewHandler(handlerConfig, api, nil, publisher, nil, log)
	}

	publishFlag := publish
	output, err := handler.Execute(ctx, &fetch.Input{RequestedBy: requestedBy, PublishSnapshot: &publishFlag})
	if err != nil {
		return err
	}
	return writeOutput(os.Stdout, format, output)
}

func runHistory(ctx context.Context, path string, limit int) error {
	cfg, err := config.LoadThreatIntelOnly(path)
	if err != nil {
		return err
	}
	pg, err := openPostgres(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer pg.Close()

	runs, err := queries.LatestRuns(ctx, pg.DB, limit)
	if err != nil {
		return err
	}
	return writeRuns(os.Stdout, runs)
}

func runQuery(path string) error {
	cfg, err := config.LoadThreatIntelOnly(path)
	if err != nil {
		return err
	}
	query, err := threatintel.BuildQuery(cfg.ThreatIntel)
	if err != nil {
		return err
	}
	fmt.Println(query.String())
	return nil
}

func openPostgres(ctx context.Context, cfg *config.Config, enabled bool) (*database.PostgresClient, error) {
	if !enabled {
		return nil, nil
	}
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return nil, err
	}
	if err := pg.Ping(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

// writeOutput prints one IP per line for text, or the full output for json.
func writeOutput(w io.Writer, format string, output *fetch.Output) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(output)
	}
	for _, ip := range output.IPs {
		if _, err := fmt.Fprintln(w, ip); err != nil {
			return err
		}
	}
	return nil
}

func writeRuns(w io.Writer, runs []models.ThreatIntelRun) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tIPS\tEXCLUSION\tERROR\tID")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\t%s\n",
			run.StartedAt.Format(time.RFC3339), run.Status, run.IPCount, run.ExclusionApplied, run.ErrorCode, run.ID)
	}
	return tw.Flush()
}
