package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Settings is the singleton control row: thresholds, the retrain counter
// and the active-version pointer. Exactly one row (id = 1) exists.
type Settings struct {
	ActiveModelVersion    sql.NullInt64
	ThresholdAllow        float64
	ThresholdBlock        float64
	RetrainGoldThreshold  int
	NewGoldSinceLastTrain int
	AutoRetrainEnabled    bool
	LastRetrainAt         sql.NullTime
	UpdatedAt             time.Time
}

// EnsureSettings seeds the singleton row with the supplied defaults if it
// does not exist yet. Later runs leave runtime changes untouched.
func (s *Store) EnsureSettings(ctx context.Context, defaults Settings) error {
	if defaults.ThresholdAllow > defaults.ThresholdBlock {
		return fmt.Errorf("threshold_allow %.2f above threshold_block %.2f: invalid defaults",
			defaults.ThresholdAllow, defaults.ThresholdBlock)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_settings (
			id, threshold_allow, threshold_block, retrain_gold_threshold,
			new_gold_since_train, auto_retrain_enabled, updated_at
		) VALUES (1, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, defaults.ThresholdAllow, defaults.ThresholdBlock, defaults.RetrainGoldThreshold,
		defaults.AutoRetrainEnabled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to seed settings: %w", classify(err))
	}
	return nil
}

// GetSettings returns the settings snapshot.
func (s *Store) GetSettings(ctx context.Context) (*Settings, error) {
	st := &Settings{}
	err := s.db.QueryRowContext(ctx, `
		SELECT active_model_version, threshold_allow, threshold_block,
		       retrain_gold_threshold, new_gold_since_train,
		       auto_retrain_enabled, last_retrain_at, updated_at
		FROM system_settings WHERE id = 1
	`).Scan(
		&st.ActiveModelVersion, &st.ThresholdAllow, &st.ThresholdBlock,
		&st.RetrainGoldThreshold, &st.NewGoldSinceLastTrain,
		&st.AutoRetrainEnabled, &st.LastRetrainAt, &st.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("settings row missing: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return st, nil
}

// UpdateThresholds changes the decision thresholds; they persist through
// restarts and apply to subsequent scorings.
func (s *Store) UpdateThresholds(ctx context.Context, allow, block float64) error {
	if allow < 0 || block > 1 || allow > block {
		return fmt.Errorf("invalid thresholds allow=%.2f block=%.2f", allow, block)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE system_settings SET threshold_allow = ?, threshold_block = ?, updated_at = ?
		WHERE id = 1
	`, allow, block, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update thresholds: %w", classify(err))
	}
	return nil
}

// SetAutoRetrain toggles the automatic retrain loop's gate.
func (s *Store) SetAutoRetrain(ctx context.Context, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE system_settings SET auto_retrain_enabled = ?, updated_at = ? WHERE id = 1
	`, enabled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set auto retrain: %w", err)
	}
	return nil
}

// SetRetrainGoldThreshold changes how many fresh gold labels trigger a
// retrain.
func (s *Store) SetRetrainGoldThreshold(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("invalid retrain threshold %d", n)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE system_settings SET retrain_gold_threshold = ?, updated_at = ? WHERE id = 1
	`, n, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set retrain threshold: %w", err)
	}
	return nil
}

// ConsumeGoldCounter subtracts the gold labels a training run consumed and
// stamps the retrain time. Called only on successful training completion.
// Reviews that commit after the run snapshotted its gold set keep their
// counter bump and count toward the next training.
func (s *Store) ConsumeGoldCounter(ctx context.Context, consumed int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE system_settings
		SET new_gold_since_train = MAX(0, new_gold_since_train - ?),
		    last_retrain_at = ?, updated_at = ?
		WHERE id = 1
	`, consumed, at.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to consume gold counter: %w", err)
	}
	return nil
}
