// Package dataset imports the labeled SMS corpus that seeds training. The
// import is deterministic: the same file bytes always produce the same
// train/holdout partition, so holdout metrics stay comparable across model
// versions.
package dataset

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"

	"github.com/bdobrica/Togusa/internal/togusa/store"
)

// shuffleSeed fixes the shuffle so repeated imports of the same file yield
// the identical partition.
const shuffleSeed = 42

// Result summarizes one import run.
type Result struct {
	// Imported is the number of rows created.
	Imported int
	// TrainPool and Holdout split Imported 80/20.
	TrainPool int
	Holdout   int
	// Skipped is the number of dataset rows already present when the
	// import was declined.
	Skipped int
	// Malformed counts lines without a tab, without text, or with an
	// unknown label.
	Malformed int
}

// Import loads `<label>\t<text>` records from path, shuffles them with the
// fixed seed, and partitions 80% train_pool / 20% validation_holdout. When
// dataset rows already exist the import is a no-op unless force is set,
// which deletes and re-creates them.
func Import(ctx context.Context, st *store.Store, path string, force bool) (*Result, error) {
	existing, err := st.CountDatasetMessages(ctx)
	if err != nil {
		return nil, err
	}
	if existing > 0 && !force {
		slog.Info("dataset: already imported, skipping", "rows", existing)
		return &Result{Skipped: existing}, nil
	}

	records, malformed, err := readRecords(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("dataset %s contains no usable records", path)
	}

	if existing > 0 {
		deleted, err := st.DeleteDatasetMessages(ctx)
		if err != nil {
			return nil, err
		}
		slog.Info("dataset: force import dropped previous rows", "rows", deleted)
	}

	rng := rand.New(rand.NewSource(shuffleSeed))
	rng.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})

	cut := len(records) * 4 / 5
	batch := make([]*store.Message, 0, len(records))
	for i, rec := range records {
		split := store.SplitTrainPool
		if i >= cut {
			split = store.SplitValidationHoldout
		}
		batch = append(batch, &store.Message{
			Text:      rec.text,
			Source:    store.SourceDataset,
			Split:     sql.NullString{String: string(split), Valid: true},
			TrueLabel: sql.NullString{String: string(rec.label), Valid: true},
			Status:    store.StatusDataset,
		})
	}
	if err := st.InsertDatasetMessages(ctx, batch); err != nil {
		return nil, err
	}

	res := &Result{
		Imported:  len(records),
		TrainPool: cut,
		Holdout:   len(records) - cut,
		Malformed: malformed,
	}
	slog.Info("dataset: import complete",
		"path", path,
		"imported", res.Imported,
		"train_pool", res.TrainPool,
		"holdout", res.Holdout,
		"malformed", res.Malformed,
	)
	return res, nil
}

type record struct {
	label store.Label
	text  string
}

// readRecords parses the tab-separated corpus. Empty lines are skipped;
// lines without a tab, without text, or with an unknown label are counted
// and dropped. Trailing carriage returns are tolerated.
func readRecords(path string) ([]record, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	var (
		records   []record
		malformed int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		label, text, ok := strings.Cut(line, "\t")
		if !ok {
			malformed++
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			malformed++
			continue
		}
		switch strings.ToLower(strings.TrimSpace(label)) {
		case "ham":
			records = append(records, record{label: store.LabelHam, text: text})
		case "spam":
			records = append(records, record{label: store.LabelSpam, text: text})
		default:
			malformed++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read dataset: %w", err)
	}
	return records, malformed, nil
}
