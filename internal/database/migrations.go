package database

// Migration is one schema step. Down undoes Up and is run by DB.Rollback.
type Migration struct {
	Version string
	Up      string
	Down    string
}

// migrations are applied in slice order; versions sort the same way
var migrations = []Migration{
	{
		Version: "001_init",
		Up: `
-- One row per supervised server run
CREATE TABLE runtime_sessions (
    id TEXT PRIMARY KEY,
    build TEXT NOT NULL,
    folder TEXT NOT NULL,
    state TEXT NOT NULL,
    pid INTEGER NOT NULL DEFAULT 0,
    exit_code INTEGER,
    restart_of TEXT,
    error_message TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL,
    ended_at DATETIME
);

CREATE INDEX idx_runtime_sessions_started ON runtime_sessions(started_at);
CREATE INDEX idx_runtime_sessions_folder ON runtime_sessions(folder);
`,
		Down: `
DROP TABLE IF EXISTS runtime_sessions;
`,
	},
	{
		Version: "002_build_installs",
		Up: `
-- Install attempts made through the build catalog
CREATE TABLE build_installs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    version TEXT NOT NULL,
    folder TEXT NOT NULL,
    status TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL,
    finished_at DATETIME
);

CREATE INDEX idx_build_installs_version ON build_installs(version);
`,
		Down: `
DROP TABLE IF EXISTS build_installs;
`,
	},
}

func findMigration(version string) (Migration, bool) {
	for _, migration := range migrations {
		if migration.Version == version {
			return migration, true
		}
	}
	return Migration{}, false
}
