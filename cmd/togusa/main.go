// Togusa is the SMS spam classification agent daemon.
//
// All configuration is loaded from environment variables, with pipeline
// tuning in an optional YAML file:
//
//	TOGUSA_DB_PATH             - path to the SQLite database (default "togusa.db")
//	TOGUSA_CONFIG_FILE         - path to the YAML tuning file (optional)
//	TOGUSA_HEALTH_ADDR         - health/status listen address (default ":8090";
//	                             set to the empty string to disable)
//	TOGUSA_SCORER_WORKERS      - number of concurrent scoring workers (default 1)
//	TOGUSA_AUTO_IMPORT         - import the dataset at startup (default true)
//	TOGUSA_LOG_LEVEL           - "debug", "info", "warn", "error" (default "info")
//	TOGUSA_LOG_FORMAT          - "text" or "json" (default "text")
//	TOGUSA_MATRIX_HOMESERVER   - Matrix homeserver URL (optional; unset
//	                             disables the Matrix notifier)
//	TOGUSA_MATRIX_USER_ID      - bot user ID
//	TOGUSA_MATRIX_ACCESS_TOKEN - bot access token
//	TOGUSA_MATRIX_ROOM         - room ID that receives operator notices
package main

import (
	"fmt"
	"os"

	"github.com/bdobrica/Togusa/common/environment"
	"github.com/bdobrica/Togusa/common/version"
	"github.com/bdobrica/Togusa/internal/togusa/app"
	"github.com/bdobrica/Togusa/internal/togusa/config"
	"github.com/bdobrica/Togusa/internal/togusa/matrix"
	"github.com/bdobrica/Togusa/internal/togusa/observability"
)

func main() {
	fmt.Printf("Togusa Spam Classification Agent\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	observability.Setup(
		environment.StringOr("TOGUSA_LOG_LEVEL", "info"),
		environment.StringOr("TOGUSA_LOG_FORMAT", "text"),
	)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	togusa, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Togusa: %v\n", err)
		os.Exit(1)
	}
	defer togusa.Stop()

	if err := togusa.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Togusa: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig assembles the application configuration from the environment
// and the optional YAML tuning file.
func loadConfig() (*app.Config, error) {
	tuning := config.Default()
	if path, ok := environment.String("TOGUSA_CONFIG_FILE"); ok && path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		tuning = *loaded
	}

	// An explicitly empty TOGUSA_HEALTH_ADDR disables the health server.
	healthAddr := ":8090"
	if v, ok := environment.String("TOGUSA_HEALTH_ADDR"); ok {
		healthAddr = v
	}

	return &app.Config{
		DatabasePath:  environment.StringOr("TOGUSA_DB_PATH", "togusa.db"),
		HealthAddr:    healthAddr,
		ScorerWorkers: environment.IntOr("TOGUSA_SCORER_WORKERS", 1),
		AutoImport:    environment.BoolOr("TOGUSA_AUTO_IMPORT", true),
		Tuning:        tuning,
		Matrix: matrix.Config{
			Homeserver:  environment.StringOr("TOGUSA_MATRIX_HOMESERVER", ""),
			UserID:      environment.StringOr("TOGUSA_MATRIX_USER_ID", ""),
			AccessToken: environment.StringOr("TOGUSA_MATRIX_ACCESS_TOKEN", ""),
		},
		MatrixRoom: environment.StringOr("TOGUSA_MATRIX_ROOM", ""),
	}, nil
}
