// togusa-import loads a labeled SMS corpus into the Togusa database.
//
// Usage:
//
//	togusa-import [-force] [dataset-path]
//
// The dataset path defaults to the tuning file's dataset_path. The database
// is selected by TOGUSA_DB_PATH and may be shared with a running daemon; the
// inserted rows commit in a single transaction.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/bdobrica/Togusa/common/environment"
	"github.com/bdobrica/Togusa/internal/togusa/config"
	"github.com/bdobrica/Togusa/internal/togusa/dataset"
	"github.com/bdobrica/Togusa/internal/togusa/observability"
	"github.com/bdobrica/Togusa/internal/togusa/store"
)

func main() {
	force := flag.Bool("force", false, "replace previously imported dataset rows")
	flag.Parse()

	observability.Setup(
		environment.StringOr("TOGUSA_LOG_LEVEL", "info"),
		environment.StringOr("TOGUSA_LOG_FORMAT", "text"),
	)

	tuning := config.Default()
	if path, ok := environment.String("TOGUSA_CONFIG_FILE"); ok && path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		tuning = *loaded
	}

	datasetPath := tuning.DatasetPath
	if flag.NArg() > 0 {
		datasetPath = flag.Arg(0)
	}

	st, err := store.New(environment.StringOr("TOGUSA_DB_PATH", "togusa.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	result, err := dataset.Import(context.Background(), st, datasetPath, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		os.Exit(1)
	}

	if result.Skipped > 0 {
		fmt.Printf("Dataset already imported (%d rows); use -force to replace it.\n", result.Skipped)
		return
	}
	fmt.Printf("Imported %d messages: %d train pool, %d validation holdout (%d malformed lines skipped).\n",
		result.Imported, result.TrainPool, result.Holdout, result.Malformed)
}
