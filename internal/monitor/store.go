package monitor

import (
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const dateLayout = "2006-01-02"

// Tally is one name's accumulated hit count over a queried range.
type Tally struct {
	Name string `json:"name"`
	Hits int64  `json:"hits"`
}

// DailyTally is one name's hit count on a single day.
type DailyTally struct {
	Name string `json:"name"`
	Date string `json:"date"`
	Hits int64  `json:"hits"`
}

// Store persists per-schema and per-software hit counters, bucketed by
// UTC day, per spec.md §4.H.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and pings) a MySQL-compatible store at dsn, sized to
// maxConns concurrent connections.
func OpenStore(dsn string, maxConns int) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if maxConns <= 0 {
		maxConns = 8
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the store's connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Schema DDL, applied by an operator (or a migration tool) ahead of time:
//
//	CREATE TABLE schemas (
//	  name      VARCHAR(255) NOT NULL,
//	  dateStats DATE NOT NULL,
//	  hits      BIGINT NOT NULL DEFAULT 0,
//	  PRIMARY KEY (name, dateStats)
//	);
//	CREATE TABLE softwares (
//	  name      VARCHAR(255) NOT NULL,
//	  dateStats DATE NOT NULL,
//	  hits      BIGINT NOT NULL DEFAULT 0,
//	  PRIMARY KEY (name, dateStats)
//	);

// UpsertSchemaHit increments schemas(name, date)'s hit counter, inserting
// a fresh row at 1 if none exists yet.
func (s *Store) UpsertSchemaHit(name string, date time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO schemas (name, dateStats, hits) VALUES (?, ?, 1)
		 ON DUPLICATE KEY UPDATE hits = hits + 1`,
		name, date.Format(dateLayout))
	return err
}

// UpsertSoftwareHit increments softwares(name, date)'s hit counter. name is
// expected to be the "softwareName | softwareVersion" composite key, so
// different versions of the same client are tallied separately.
func (s *Store) UpsertSoftwareHit(name string, date time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO softwares (name, dateStats, hits) VALUES (?, ?, 1)
		 ON DUPLICATE KEY UPDATE hits = hits + 1`,
		name, date.Format(dateLayout))
	return err
}

func (s *Store) totals(table string, start, end time.Time) ([]Tally, error) {
	rows, err := s.db.Query(
		`SELECT name, SUM(hits) FROM `+table+` WHERE dateStats BETWEEN ? AND ? GROUP BY name ORDER BY name`,
		start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tally
	for rows.Next() {
		var t Tally
		if err := rows.Scan(&t.Name, &t.Hits); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) daily(table string, start, end time.Time) ([]DailyTally, error) {
	rows, err := s.db.Query(
		`SELECT name, dateStats, hits FROM `+table+` WHERE dateStats BETWEEN ? AND ? ORDER BY dateStats, name`,
		start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyTally
	for rows.Next() {
		var d DailyTally
		var date time.Time
		if err := rows.Scan(&d.Name, &date, &d.Hits); err != nil {
			return nil, err
		}
		d.Date = date.Format(dateLayout)
		out = append(out, d)
	}
	return out, rows.Err()
}

// SchemaDaily returns per-day schema hit rows within [start, end].
func (s *Store) SchemaDaily(start, end time.Time) ([]DailyTally, error) {
	return s.daily("schemas", start, end)
}

// SchemaTotals returns per-schema hit totals across [start, end].
func (s *Store) SchemaTotals(start, end time.Time) ([]Tally, error) {
	return s.totals("schemas", start, end)
}

// SoftwareDaily returns per-day software hit rows within [start, end].
func (s *Store) SoftwareDaily(start, end time.Time) ([]DailyTally, error) {
	return s.daily("softwares", start, end)
}

// SoftwareTotals returns per-software hit totals across [start, end].
func (s *Store) SoftwareTotals(start, end time.Time) ([]Tally, error) {
	return s.totals("softwares", start, end)
}
