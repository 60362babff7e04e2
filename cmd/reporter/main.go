// Command reporter monitors a mailbox for incident notification emails,
// extracts structured fields from qualifying messages, and appends them
// to the configured report workbook.
//
// Normal mode runs the continuous monitor; -once performs a single scan
// and exits; -admin edits the mapping tables.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nhle/incident-reporter/internal/config"
	"github.com/nhle/incident-reporter/internal/credential"
	"github.com/nhle/incident-reporter/internal/model"
	"github.com/nhle/incident-reporter/internal/pipeline"
	"github.com/nhle/incident-reporter/internal/sink"
	"github.com/nhle/incident-reporter/internal/source/imap"
	"github.com/nhle/incident-reporter/internal/store"
)

const cutoffLayout = "2006-01-02 15:04"

func main() {
	var (
		configPath = flag.String("config", model.DefaultConfigPath(), "application config file")
		adminMode  = flag.Bool("admin", false, "run an admin table operation instead of monitoring")
		once       = flag.Bool("once", false, "perform a single scan and exit")
		since      = flag.String("since", "", "cutoff timestamp, inclusive (\""+cutoffLayout+"\")")
		debug      = flag.Bool("debug", false, "verbose per-message output")
	)
	flag.Parse()

	if err := run(*configPath, *adminMode, *once, *since, *debug, flag.Args()); err != nil {
		log.Fatalf("reporter: %v", err)
	}
}

func run(configPath string, adminMode, once bool, since string, debug bool, args []string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	tables := config.NewStore(cfg.ConfigDir)
	if err := tables.EnsureDefaults(); err != nil {
		return err
	}

	if adminMode {
		return runAdmin(cfg, tables, args)
	}

	filter := &model.FilterState{}
	if since != "" {
		cutoff, err := time.ParseInLocation(cutoffLayout, since, time.Local)
		if err != nil {
			return fmt.Errorf("parsing -since %q: %w", since, err)
		}
		filter.SetCutoff(cutoff)
	}

	mapping, err := tables.FieldMapping()
	if err != nil {
		return err
	}
	if err := sink.Bootstrap(cfg.Report.WorkbookPath, mapping); err != nil {
		return err
	}

	password, err := credential.Get("imap:" + cfg.Mail.Username)
	if err != nil {
		return fmt.Errorf("reading IMAP credential (store one with keyring key %q): %w",
			"imap:"+cfg.Mail.Username, err)
	}

	src := imap.NewAdapter(
		cfg.Mail.Host, cfg.Mail.Port,
		cfg.Mail.Username, password,
		cfg.Mail.Mailbox, cfg.Mail.TLS,
	)

	state, err := store.NewSQLiteStore(cfg.StatePath)
	if err != nil {
		return err
	}
	defer state.Close()

	coord := pipeline.New(
		src, state, sink.NewExcelSink(cfg.Report.WorkbookPath),
		tables, filter,
		time.Duration(cfg.Mail.PollIntervalSec)*time.Second,
	)

	ctx := context.Background()

	// Replay records retained from earlier failed appends before taking
	// on new mail.
	if results, err := coord.RetryPending(ctx); err != nil {
		log.Printf("retrying pending records: %v", err)
	} else {
		report(results, debug)
	}

	if once {
		results, err := coord.ScanOnce(ctx)
		if err != nil {
			return err
		}
		report(results, debug)
		return nil
	}

	coord.Start()
	defer coord.Stop()
	log.Printf("monitoring %s for %s (poll every %ds)",
		cfg.Mail.Mailbox, cfg.Mail.Username, cfg.Mail.PollIntervalSec)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case res := <-coord.Results():
			report([]pipeline.Result{res}, debug)
		case <-sigCh:
			log.Printf("shutting down")
			return nil
		}
	}
}

// report prints message dispositions. Quiet outcomes (duplicates,
// filtered messages) only appear with -debug.
func report(results []pipeline.Result, debug bool) {
	for _, res := range results {
		switch res.Outcome {
		case pipeline.OutcomeAppended:
			log.Printf("appended %s (category %s) at row %d", res.MessageID, res.Category, res.Row)
		case pipeline.OutcomeFailed, pipeline.OutcomeSourceDown:
			log.Printf("error: %v", res.Err)
		default:
			if debug {
				log.Printf("%s: %s", res.MessageID, res.Outcome)
			}
		}
	}
}

// runAdmin dispatches one admin table operation.
//
//	add-company <key> <display name> [alias,alias,...]
//	remove-company <key>
//	add-code <key> <display name> [alias,alias,...]
//	remove-code <key>
//	add-keyword <category> <pattern>
//	remove-keyword <category> <pattern>
//	remove-category <category>
//	set-credential <key> <value>
//	delete-credential <key>
//	preview [rows]
//	sheet-info
func runAdmin(cfg *model.AppConfig, tables *config.Store, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("admin mode needs an operation")
	}

	op, rest := args[0], args[1:]
	switch op {
	case "add-company", "add-code":
		if len(rest) < 2 {
			return fmt.Errorf("%s needs <key> <display name> [aliases]", op)
		}
		entry := model.AliasEntry{Key: rest[0], DisplayName: rest[1]}
		if len(rest) > 2 {
			entry.Aliases = strings.Split(rest[2], ",")
		}
		if op == "add-company" {
			return tables.AddCompany(entry)
		}
		return tables.AddIncidentCode(entry)

	case "remove-company":
		if len(rest) != 1 {
			return fmt.Errorf("remove-company needs <key>")
		}
		return tables.RemoveCompany(rest[0])

	case "remove-code":
		if len(rest) != 1 {
			return fmt.Errorf("remove-code needs <key>")
		}
		return tables.RemoveIncidentCode(rest[0])

	case "add-keyword":
		if len(rest) != 2 {
			return fmt.Errorf("add-keyword needs <category> <pattern>")
		}
		return tables.AddKeyword(rest[0], rest[1])

	case "remove-keyword":
		if len(rest) != 2 {
			return fmt.Errorf("remove-keyword needs <category> <pattern>")
		}
		return tables.RemoveKeyword(rest[0], rest[1])

	case "remove-category":
		if len(rest) != 1 {
			return fmt.Errorf("remove-category needs <category>")
		}
		return tables.RemoveCategory(rest[0])

	case "set-credential":
		if len(rest) != 2 {
			return fmt.Errorf("set-credential needs <key> <value>")
		}
		return credential.Set(rest[0], rest[1])

	case "delete-credential":
		if len(rest) != 1 {
			return fmt.Errorf("delete-credential needs <key>")
		}
		return credential.Delete(rest[0])

	case "preview":
		n := 10
		if len(rest) == 1 {
			parsed, err := strconv.Atoi(rest[0])
			if err != nil || parsed <= 0 {
				return fmt.Errorf("preview rows must be a positive number, got %q", rest[0])
			}
			n = parsed
		}
		return printPreview(cfg, tables, n)

	case "sheet-info":
		info, err := sink.NewExcelSink(cfg.Report.WorkbookPath).SheetInfo()
		if err != nil {
			return err
		}
		for sheet, rows := range info {
			fmt.Printf("%s: %d rows\n", sheet, rows)
		}
		return nil

	default:
		return fmt.Errorf("unknown admin operation %q", op)
	}
}

// printPreview prints the report header plus the last n data rows.
func printPreview(cfg *model.AppConfig, tables *config.Store, n int) error {
	mapping, err := tables.FieldMapping()
	if err != nil {
		return err
	}

	rows, err := sink.NewExcelSink(cfg.Report.WorkbookPath).Preview(mapping.Sheet, n)
	if err != nil {
		return err
	}
	for _, row := range rows {
		fmt.Println(strings.Join(row, "\t"))
	}
	return nil
}
