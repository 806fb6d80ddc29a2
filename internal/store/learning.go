package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
)

// Append inserts the learning record and, in the same transaction, stores the
// resulting calibration state and factor weights. Records are never updated.
func (s *Store) Append(ctx context.Context, rec model.LearningUpdateRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	state, err := json.Marshal(rec.StateAfter.Calibration)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO learning_updates (id, expert_id, game_id, category, kind, data, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.ExpertID, rec.GameID, rec.Category, rec.Kind, string(data), stamp(rec.Timestamp)); err != nil {
			return fmt.Errorf("insert learning update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO calibration_states (expert_id, category, data, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(expert_id, category) DO UPDATE SET
				data = excluded.data,
				updated_at = excluded.updated_at`,
			rec.ExpertID, rec.Category, string(state), stamp(rec.Timestamp)); err != nil {
			return fmt.Errorf("upsert calibration state: %w", err)
		}
		if !rec.FactorsApplied {
			return nil
		}
		return mergeWeights(ctx, tx, rec.ExpertID, rec.StateAfter.Factors)
	})
}

func mergeWeights(ctx context.Context, tx *sql.Tx, expertID string, changed map[string]float64) error {
	weights := model.FactorWeights{ExpertID: expertID, Weights: map[string]float64{}}
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT data FROM factor_weights WHERE expert_id = ?`, expertID).Scan(&raw)
	switch {
	case err == nil:
		if err := json.Unmarshal([]byte(raw), &weights); err != nil {
			return err
		}
		if weights.Weights == nil {
			weights.Weights = map[string]float64{}
		}
	case IsNotFound(err):
	default:
		return err
	}
	for f, w := range changed {
		weights.Weights[f] = w
	}
	data, err := json.Marshal(weights)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO factor_weights (expert_id, data) VALUES (?, ?)
		ON CONFLICT(expert_id) DO UPDATE SET data = excluded.data`,
		expertID, string(data))
	if err != nil {
		return fmt.Errorf("upsert factor weights: %w", err)
	}
	return nil
}

// Records returns an expert's learning records, newest first. A limit <= 0
// returns all of them.
func (s *Store) Records(ctx context.Context, expertID string, limit int) ([]model.LearningUpdateRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM learning_updates WHERE expert_id = ? ORDER BY seq DESC LIMIT ?`, expertID, limit)
	if err != nil {
		return nil, err
	}
	return scanJSON[model.LearningUpdateRecord](rows)
}

// Learned reports whether a learning record exists for the expert's
// assertion in the game.
func (s *Store) Learned(ctx context.Context, expertID, gameID, category string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM learning_updates WHERE expert_id = ? AND game_id = ? AND category = ?
		)`, expertID, gameID, category).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("lookup learning record: %w", err)
	}
	return found, nil
}

// CalibrationStates returns every stored calibration state.
func (s *Store) CalibrationStates(ctx context.Context) ([]model.CalibrationState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM calibration_states ORDER BY expert_id, category`)
	if err != nil {
		return nil, err
	}
	return scanJSON[model.CalibrationState](rows)
}

// FactorWeights returns the stored factor weights of every expert.
func (s *Store) FactorWeights(ctx context.Context) ([]model.FactorWeights, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM factor_weights ORDER BY expert_id`)
	if err != nil {
		return nil, err
	}
	return scanJSON[model.FactorWeights](rows)
}
