// Package history provides the durable sqlite audit store for alerts and
// confirmed contract triggers. The cache keeps short-lived operational
// copies; this store keeps the record operators query after the fact.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/sensorgrid/pipeline/pkg/models"
)

const createTablesSQL = `
	-- Threshold alerts
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		severity TEXT NOT NULL,
		source TEXT NOT NULL,
		metric TEXT NOT NULL,
		message TEXT,
		data TEXT,
		timestamp TIMESTAMP NOT NULL
	);

	-- Confirmed contract trigger executions
	CREATE TABLE IF NOT EXISTS trigger_confirmations (
		id TEXT PRIMARY KEY,
		contract_address TEXT NOT NULL,
		function_name TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		block_number INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		confirmed_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_source_time
		ON alerts(source, timestamp);
	CREATE INDEX IF NOT EXISTS idx_confirmations_contract_time
		ON trigger_confirmations(contract_address, confirmed_at);

	PRAGMA foreign_keys=ON;
	`

// Store wraps the sqlite connection.
type Store struct {
	*sql.DB
}

// New opens the database at path and initializes the schema. Pass
// ":memory:" for an ephemeral store.
func New(path string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenDB, err)
	}

	// WAL mode for better concurrent access
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnableWAL, err)
	}

	store := &Store{sqlDB}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitSchema, err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	_, err := s.Exec(createTablesSQL)

	return err
}

// SaveAlert persists one threshold alert.
func (s *Store) SaveAlert(alert *models.Alert) error {
	data, err := json.Marshal(alert.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal alert data: %w", err)
	}

	_, err = s.Exec(`
		INSERT OR REPLACE INTO alerts (id, severity, source, metric, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, alert.ID, alert.Severity, alert.Source, alert.Metric, alert.Message, string(data), alert.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInsert, err)
	}

	return nil
}

// SaveConfirmation persists one confirmed contract trigger.
func (s *Store) SaveConfirmation(trigger *models.ContractTrigger) error {
	_, err := s.Exec(`
		INSERT OR REPLACE INTO trigger_confirmations
			(id, contract_address, function_name, tx_hash, block_number, retry_count, confirmed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, trigger.ID, trigger.ContractAddress, trigger.FunctionName,
		trigger.TxHash, trigger.BlockNumber, trigger.RetryCount, time.Now())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInsert, err)
	}

	return nil
}

// RecentAlerts returns alerts for a source newer than since, most recent
// first.
func (s *Store) RecentAlerts(source string, since time.Time) ([]models.Alert, error) {
	rows, err := s.Query(`
		SELECT id, severity, source, metric, message, data, timestamp
		FROM alerts
		WHERE source = ? AND timestamp > ?
		ORDER BY timestamp DESC
	`, source, since)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	defer rows.Close()

	var alerts []models.Alert

	for rows.Next() {
		var (
			alert models.Alert
			data  string
		)

		if err := rows.Scan(&alert.ID, &alert.Severity, &alert.Source,
			&alert.Metric, &alert.Message, &data, &alert.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScan, err)
		}

		if data != "" {
			if err := json.Unmarshal([]byte(data), &alert.Data); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrScan, err)
			}
		}

		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// Confirmations returns confirmed executions for a contract address.
func (s *Store) Confirmations(contractAddress string) ([]models.ContractTrigger, error) {
	rows, err := s.Query(`
		SELECT id, contract_address, function_name, tx_hash, block_number, retry_count
		FROM trigger_confirmations
		WHERE contract_address = ?
		ORDER BY confirmed_at DESC
	`, contractAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	defer rows.Close()

	var triggers []models.ContractTrigger

	for rows.Next() {
		trigger := models.ContractTrigger{Status: models.TriggerConfirmed}

		if err := rows.Scan(&trigger.ID, &trigger.ContractAddress, &trigger.FunctionName,
			&trigger.TxHash, &trigger.BlockNumber, &trigger.RetryCount); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScan, err)
		}

		triggers = append(triggers, trigger)
	}

	return triggers, rows.Err()
}

// CleanOlderThan removes records older than the retention window.
func (s *Store) CleanOlderThan(retention time.Duration) error {
	cutoff := time.Now().Add(-retention)

	if _, err := s.Exec(`DELETE FROM alerts WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("%w: %w", ErrClean, err)
	}

	if _, err := s.Exec(`DELETE FROM trigger_confirmations WHERE confirmed_at < ?`, cutoff); err != nil {
		return fmt.Errorf("%w: %w", ErrClean, err)
	}

	return nil
}
