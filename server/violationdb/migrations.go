package violationdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE session(
			id INTEGER PRIMARY KEY,
			external_id TEXT NOT NULL,
			started_at INT NOT NULL,
			ended_at INT,
			num_violations INT NOT NULL DEFAULT 0
		);

		CREATE TABLE violation(
			id INTEGER PRIMARY KEY,
			session INT NOT NULL,
			interval_id INT NOT NULL,
			kind TEXT NOT NULL,
			violation_time INT NOT NULL,
			start_time INT NOT NULL,
			end_time INT NOT NULL,
			score REAL,
			peak_score REAL,
			ticks INT NOT NULL DEFAULT 0,
			closed INT NOT NULL DEFAULT 0,
			detail BLOB
		);

		CREATE INDEX idx_violation_session ON violation(session);
		CREATE UNIQUE INDEX idx_violation_session_interval ON violation(session, interval_id);

		CREATE TABLE artifact(
			id INTEGER PRIMARY KEY,
			session INT NOT NULL,
			filename TEXT NOT NULL,
			path TEXT NOT NULL,
			size INT NOT NULL,
			frames INT NOT NULL DEFAULT 0,
			started_at INT NOT NULL,
			ended_at INT NOT NULL
		);

		CREATE INDEX idx_artifact_session ON artifact(session);
	`))

	return migs
}
