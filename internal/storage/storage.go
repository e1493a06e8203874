// Package storage provides SQLite-backed persistence for the alert audit log
// and the tracked wallet checkpoint.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/polytipster/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db        *sql.DB
	maxAlerts int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/polytipster/data.db.
func New(maxAlerts int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "polytipster", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxAlerts: maxAlerts}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id          TEXT PRIMARY KEY,
			signal_key  TEXT NOT NULL,
			kind        TEXT NOT NULL,
			market_id   TEXT,
			message     TEXT NOT NULL,
			sent_at     INTEGER NOT NULL,
			delivered   INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_sent_at ON alerts(sent_at)`,
		`CREATE TABLE IF NOT EXISTS wallets (
			address            TEXT PRIMARY KEY,
			username           TEXT,
			pnl_all            REAL NOT NULL,
			volume_all         REAL NOT NULL,
			pnl_month          REAL NOT NULL,
			pnl_week           REAL NOT NULL,
			pnl_day            REAL NOT NULL,
			profitable_windows INTEGER NOT NULL,
			win_rate           REAL NOT NULL,
			roi_percent        REAL NOT NULL,
			closed_positions   INTEGER NOT NULL,
			tier               TEXT NOT NULL,
			last_seen_trade_ts INTEGER NOT NULL DEFAULT 0,
			updated_at         INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AddAlert appends an alert and trims the log to the newest maxAlerts rows.
func (s *Storage) AddAlert(alert *models.SentAlert) error {
	if err := alert.Validate(); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO alerts (id, signal_key, kind, market_id, message, sent_at, delivered)
		VALUES (?,?,?,?,?,?,?)`,
		alert.ID, alert.SignalKey, alert.Kind, alert.MarketID, alert.Message,
		alert.SentAt.UnixNano(), boolToInt(alert.Delivered),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	if s.maxAlerts > 0 {
		if _, err = tx.Exec(`
			DELETE FROM alerts WHERE id NOT IN (
				SELECT id FROM alerts ORDER BY sent_at DESC LIMIT ?
			)`, s.maxAlerts); err != nil {
			return fmt.Errorf("failed to enforce alert cap: %w", err)
		}
	}

	return tx.Commit()
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *Storage) RecentAlerts(limit int) ([]models.SentAlert, error) {
	rows, err := s.db.Query(`
		SELECT id, signal_key, kind, market_id, message, sent_at, delivered
		FROM alerts ORDER BY sent_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.SentAlert{}
	for rows.Next() {
		var a models.SentAlert
		var marketID sql.NullString
		var sentAtNano int64
		var delivered int

		if err := rows.Scan(&a.ID, &a.SignalKey, &a.Kind, &marketID, &a.Message, &sentAtNano, &delivered); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.MarketID = marketID.String
		a.SentAt = time.Unix(0, sentAtNano)
		a.Delivered = delivered != 0
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// CountAlertsSince counts alerts sent at or after since.
func (s *Storage) CountAlertsSince(since time.Time) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts WHERE sent_at >= ?`, since.UnixNano()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

// RotateAlerts deletes alerts sent before the cutoff.
func (s *Storage) RotateAlerts(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM alerts WHERE sent_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to rotate alerts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SaveWallets replaces the wallet checkpoint.
func (s *Storage) SaveWallets(wallets []models.SmartWallet) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM wallets`); err != nil {
		return fmt.Errorf("failed to clear wallets: %w", err)
	}
	for _, w := range wallets {
		_, err := tx.Exec(`
			INSERT INTO wallets
				(address, username, pnl_all, volume_all, pnl_month, pnl_week, pnl_day,
				 profitable_windows, win_rate, roi_percent, closed_positions, tier,
				 last_seen_trade_ts, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			w.Address, w.Username, w.PnLAll, w.VolumeAll, w.PnLMonth, w.PnLWeek, w.PnLDay,
			w.ProfitableWindows, w.WinRate, w.ROIPercent, w.ClosedPositions, w.Tier,
			w.LastSeenTradeTS, w.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert wallet %s: %w", w.Address, err)
		}
	}
	return tx.Commit()
}

// LoadWallets returns the checkpointed wallets ordered by all-time PnL.
func (s *Storage) LoadWallets() ([]models.SmartWallet, error) {
	rows, err := s.db.Query(`
		SELECT address, username, pnl_all, volume_all, pnl_month, pnl_week, pnl_day,
		       profitable_windows, win_rate, roi_percent, closed_positions, tier,
		       last_seen_trade_ts, updated_at
		FROM wallets ORDER BY pnl_all DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []models.SmartWallet
	for rows.Next() {
		var w models.SmartWallet
		var username sql.NullString
		var updatedAtNano int64

		err := rows.Scan(
			&w.Address, &username, &w.PnLAll, &w.VolumeAll, &w.PnLMonth, &w.PnLWeek, &w.PnLDay,
			&w.ProfitableWindows, &w.WinRate, &w.ROIPercent, &w.ClosedPositions, &w.Tier,
			&w.LastSeenTradeTS, &updatedAtNano,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		w.Username = username.String
		w.UpdatedAt = time.Unix(0, updatedAtNano)
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
