package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/andresfranco/portfolio-suite-sub002/internal/config"
	"github.com/andresfranco/portfolio-suite-sub002/internal/di"
	"github.com/andresfranco/portfolio-suite-sub002/internal/logger"
	"github.com/andresfranco/portfolio-suite-sub002/internal/pipeline"
	"github.com/andresfranco/portfolio-suite-sub002/internal/rag"
)

func main() {
	var action = flag.String("action", "reindex", "Action: reindex, sweep, deadletters, retry")
	var tables = flag.String("tables", "", "Comma-separated source tables, empty means all registered tables")
	var limit = flag.Int("limit", 0, "Max records per table, 0 means no limit")
	var offset = flag.Int("offset", 0, "Records to skip per table")
	var jobType = flag.String("job-type", "", "Dead letter job type filter: index, retire")
	var count = flag.Int("n", 50, "Max dead letters to list or retry")
	flag.Parse()

	if err := config.LoadConfig(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := logger.InitLogger(); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	container, err := di.NewContainer()
	if err != nil {
		log.Fatalf("failed to build container: %v", err)
	}

	ctx := context.Background()

	var tableList []string
	if *tables != "" {
		for _, t := range strings.Split(*tables, ",") {
			tableList = append(tableList, strings.TrimSpace(t))
		}
	}

	switch *action {
	case "reindex":
		err = container.Invoke(func(indexer *rag.Indexer) error {
			fmt.Println("Reindexing source tables...")
			if err := indexer.ReindexTables(ctx, tableList, *limit, *offset); err != nil {
				return err
			}
			fmt.Println("Reindex completed")
			return nil
		})

	case "sweep":
		err = container.Invoke(func(indexer *rag.Indexer, registry *rag.LoaderRegistry) error {
			sweepTables := tableList
			if len(sweepTables) == 0 {
				sweepTables = registry.Tables()
			}
			for _, table := range sweepTables {
				retired, err := indexer.RetireMissingChunks(ctx, table)
				if err != nil {
					return err
				}
				fmt.Printf("Table %s: retired %d orphaned records\n", table, retired)
			}
			return nil
		})

	case "deadletters":
		err = container.Invoke(func(queue *pipeline.Queue) error {
			letters, err := queue.ListDeadLetters(ctx, *jobType, *count)
			if err != nil {
				return err
			}
			if len(letters) == 0 {
				fmt.Println("No dead letters")
				return nil
			}
			for _, letter := range letters {
				fmt.Printf("#%d %s %s:%s retries=%d error=%s\n",
					letter.ID, letter.JobType, letter.SourceTable, letter.SourceID,
					letter.Retries, letter.Error)
			}
			return nil
		})

	case "retry":
		err = container.Invoke(func(queue *pipeline.Queue) error {
			retried, err := queue.RetryDeadLetters(ctx, *jobType, *count)
			if err != nil {
				return err
			}
			fmt.Printf("Retried %d dead letters\n", retried)
			return nil
		})

	default:
		fmt.Printf("Unknown action: %s\n", *action)
		fmt.Println("Available actions: reindex, sweep, deadletters, retry")
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("Action %s failed: %v", *action, err)
	}
}
