package account

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Property table keys. ServerInfo and AccountInfo occupy disjoint key
// namespaces in the same table, so their merge paths never contend.
const (
	propVersion      = "version"
	propFeatures     = "features"
	propCustomBrand  = "custom-brand"
	propCustomLogo   = "custom-logo"
	propTotalStorage = "storage.total"
	propUsedStorage  = "storage.used"
	propNickname     = "name"
)

// Store is the durable mirror of the account registry. It owns schema
// creation and forward migration of the accounts database. All methods
// are safe for concurrent use; the connection pool is capped at one so
// SQLite sees a sole writer.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// flagColumns is false when the additive login-scheme column
	// migration failed. The store stays usable; scheme flags read back
	// as their defaults.
	flagColumns bool

	accountStmts accountStatements
	propStmts    propertyStatements
}

type accountStatements struct {
	upsert, delete, updateVisited, clearToken, queryAll *sql.Stmt
}

type propertyStatements struct {
	set, queryByAccount *sql.Stmt
}

// OpenStore opens (creating if needed) the accounts database at path,
// verifies foreign-key support, and applies schema migrations. Open,
// table-creation, and foreign-key failures are fatal: no account data is
// usable without a consistent store. Use ":memory:" for tests.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening accounts database", "path", path)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("account: open database %s: %w", path, err)
	}

	// Sole writer: SQLite handles one writer at a time anyway, and a
	// single connection keeps the foreign_keys pragma in force for every
	// statement (the pragma is per-connection).
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if err := enableForeignKeys(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}
	s.flagColumns = ensureFlagColumns(ctx, db, logger)

	if err := s.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("account: prepare statements: %w", err)
	}

	logger.Info("accounts database ready", "path", path)

	return s, nil
}

// enableForeignKeys turns on referential integrity and verifies the
// engine honors it. Without cascading deletes the property table would
// leak rows for removed accounts, so failure here is fatal.
func enableForeignKeys(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("account: enable foreign keys: %w", err)
	}

	var enabled int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return fmt.Errorf("account: check foreign keys: %w", err)
	}

	if enabled != 1 {
		return fmt.Errorf("account: database engine does not support foreign keys")
	}

	return nil
}

// runMigrations applies the embedded base-schema migrations with goose.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("account: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("account: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("account: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// schemeColumns are the login-scheme columns added after the first
// release. automaticLogin defaults to enabled so accounts written by
// older releases keep logging in automatically.
var schemeColumns = []struct {
	name string
	ddl  string
}{
	{"isShibboleth", "ALTER TABLE Accounts ADD COLUMN isShibboleth INTEGER"},
	{"isKerberos", "ALTER TABLE Accounts ADD COLUMN isKerberos INTEGER"},
	{"automaticLogin", "ALTER TABLE Accounts ADD COLUMN automaticLogin INTEGER DEFAULT 1"},
}

// ensureFlagColumns additively adds any missing login-scheme columns.
// Databases created before schema versioning predate the migration table,
// so this runs as a column inspection rather than a goose migration.
// Failures are logged and non-fatal: the store works without the columns,
// scheme-dependent features just default off. Returns whether all three
// columns are present afterwards.
func ensureFlagColumns(ctx context.Context, db *sql.DB, logger *slog.Logger) bool {
	present, err := tableColumns(ctx, db, "Accounts")
	if err != nil {
		logger.Warn("could not inspect Accounts columns", "error", err)
		return false
	}

	all := true

	for _, col := range schemeColumns {
		if present[col.name] {
			continue
		}

		if _, err := db.ExecContext(ctx, col.ddl); err != nil {
			logger.Warn("could not add column", "column", col.name, "error", err)

			all = false

			continue
		}

		logger.Info("added column", "column", col.name)
	}

	return all
}

// tableColumns returns the set of column names for a table.
func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return nil, fmt.Errorf("account: table_info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)

	for rows.Next() {
		var (
			cid       int
			name, typ string
			notnull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("account: scanning table_info row: %w", err)
		}

		cols[name] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account: iterating table_info rows: %w", err)
	}

	return cols, nil
}

// --- SQL query constants ---

const (
	sqlUpsertAccount = `REPLACE INTO Accounts
		(url, username, token, lastVisited, isShibboleth, automaticLogin, isKerberos)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	// Legacy form used when the scheme-column migration failed.
	sqlUpsertAccountLegacy = `REPLACE INTO Accounts
		(url, username, token, lastVisited) VALUES (?, ?, ?, ?)`

	sqlDeleteAccount = `DELETE FROM Accounts WHERE url = ? AND username = ?`

	sqlUpdateVisited = `UPDATE Accounts SET lastVisited = ?
		WHERE url = ? AND username = ?`

	sqlClearToken = `UPDATE Accounts SET token = NULL
		WHERE url = ? AND username = ?` //nolint:gosec // SQL column, not a credential

	sqlQueryAccounts = `SELECT url, username, token, lastVisited,
		isShibboleth, automaticLogin, isKerberos
		FROM Accounts ORDER BY lastVisited DESC`

	sqlQueryAccountsLegacy = `SELECT url, username, token, lastVisited
		FROM Accounts ORDER BY lastVisited DESC`

	sqlSetProperty = `REPLACE INTO ServerInfo (url, username, key, value)
		VALUES (?, ?, ?, ?)`

	sqlQueryProperties = `SELECT key, value FROM ServerInfo
		WHERE url = ? AND username = ?`
)

// stmtDef maps a SQL string to the prepared statement pointer it should
// populate.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

func (s *Store) prepareStatements(ctx context.Context) error {
	upsertSQL, querySQL := sqlUpsertAccount, sqlQueryAccounts
	if !s.flagColumns {
		upsertSQL, querySQL = sqlUpsertAccountLegacy, sqlQueryAccountsLegacy
	}

	defs := []stmtDef{
		{&s.accountStmts.upsert, upsertSQL, "upsertAccount"},
		{&s.accountStmts.delete, sqlDeleteAccount, "deleteAccount"},
		{&s.accountStmts.updateVisited, sqlUpdateVisited, "updateLastVisited"},
		{&s.accountStmts.clearToken, sqlClearToken, "clearToken"},
		{&s.accountStmts.queryAll, querySQL, "queryAllAccounts"},
		{&s.propStmts.set, sqlSetProperty, "setProperty"},
		{&s.propStmts.queryByAccount, sqlQueryProperties, "queryProperties"},
	}

	for i := range defs {
		stmt, err := s.db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

// UpsertAccount writes one account row, replacing any previous row for
// the same (url, username) key.
func (s *Store) UpsertAccount(ctx context.Context, a Account) error {
	s.logger.Debug("upserting account", "url", a.ServerURL, "username", a.Username)

	var err error
	if s.flagColumns {
		_, err = s.accountStmts.upsert.ExecContext(ctx,
			a.ServerURL, a.Username, a.Token, a.LastVisited,
			boolInt(a.IsShibboleth), boolInt(a.AutomaticLogin), boolInt(a.IsKerberos))
	} else {
		_, err = s.accountStmts.upsert.ExecContext(ctx,
			a.ServerURL, a.Username, a.Token, a.LastVisited)
	}

	if err != nil {
		return fmt.Errorf("account: upsert %s@%s: %w", a.Username, a.ServerURL, err)
	}

	return nil
}

// DeleteAccount removes an account row; the property rows cascade.
func (s *Store) DeleteAccount(ctx context.Context, serverURL, username string) error {
	s.logger.Debug("deleting account", "url", serverURL, "username", username)

	_, err := s.accountStmts.delete.ExecContext(ctx, serverURL, username)
	if err != nil {
		return fmt.Errorf("account: delete %s@%s: %w", username, serverURL, err)
	}

	return nil
}

// UpdateLastVisited stamps the row's last-visited time (milliseconds).
func (s *Store) UpdateLastVisited(ctx context.Context, serverURL, username string, ts int64) error {
	_, err := s.accountStmts.updateVisited.ExecContext(ctx, ts, serverURL, username)
	if err != nil {
		return fmt.Errorf("account: update lastVisited %s@%s: %w", username, serverURL, err)
	}

	return nil
}

// ClearToken nulls the persisted token for an account.
func (s *Store) ClearToken(ctx context.Context, serverURL, username string) error {
	s.logger.Debug("clearing token", "url", serverURL, "username", username)

	_, err := s.accountStmts.clearToken.ExecContext(ctx, serverURL, username)
	if err != nil {
		return fmt.Errorf("account: clear token %s@%s: %w", username, serverURL, err)
	}

	return nil
}

// SetProperty upserts one key/value row for an account. Each key is
// independently idempotent, so a partially applied batch heals on the
// next refresh.
func (s *Store) SetProperty(ctx context.Context, serverURL, username, key, value string) error {
	_, err := s.propStmts.set.ExecContext(ctx, serverURL, username, key, value)
	if err != nil {
		return fmt.Errorf("account: set property %s for %s@%s: %w", key, username, serverURL, err)
	}

	return nil
}

// QueryAllAccounts loads every account row plus its properties, ordered
// by descending last-visited time.
func (s *Store) QueryAllAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.accountStmts.queryAll.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("account: query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account

	for rows.Next() {
		a, scanErr := s.scanAccount(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		accounts = append(accounts, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account: iterating account rows: %w", err)
	}

	for i := range accounts {
		if err := s.loadProperties(ctx, &accounts[i]); err != nil {
			return nil, err
		}
	}

	return accounts, nil
}

// scanAccount scans one Accounts row. With the legacy schema the scheme
// flags are absent; automaticLogin defaults to enabled, the rest to off.
func (s *Store) scanAccount(rows *sql.Rows) (*Account, error) {
	var (
		a         Account
		token     sql.NullString
		shib, krb sql.NullInt64
		autoLogin sql.NullInt64
	)

	var err error
	if s.flagColumns {
		err = rows.Scan(&a.ServerURL, &a.Username, &token, &a.LastVisited,
			&shib, &autoLogin, &krb)
	} else {
		err = rows.Scan(&a.ServerURL, &a.Username, &token, &a.LastVisited)
		autoLogin = sql.NullInt64{Int64: 1, Valid: true}
	}

	if err != nil {
		return nil, fmt.Errorf("account: scanning account row: %w", err)
	}

	a.Token = token.String
	a.IsShibboleth = shib.Valid && shib.Int64 != 0
	a.IsKerberos = krb.Valid && krb.Int64 != 0
	// NULL automaticLogin means the row predates the column: default on.
	a.AutomaticLogin = !autoLogin.Valid || autoLogin.Int64 != 0

	return &a, nil
}

// loadProperties folds the account's key/value rows into the embedded
// ServerInfo and AccountInfo snapshots. Unknown keys are ignored for
// forward compatibility.
func (s *Store) loadProperties(ctx context.Context, a *Account) error {
	rows, err := s.propStmts.queryByAccount.QueryContext(ctx, a.ServerURL, a.Username)
	if err != nil {
		return fmt.Errorf("account: query properties %s@%s: %w", a.Username, a.ServerURL, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("account: scanning property row: %w", err)
		}

		applyProperty(a, key, value)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("account: iterating property rows: %w", err)
	}

	return nil
}

func applyProperty(a *Account, key, value string) {
	switch key {
	case propVersion:
		a.ServerInfo.SetVersion(value)
	case propFeatures:
		a.ServerInfo.parseFeatures(value)
	case propCustomBrand:
		a.ServerInfo.CustomBrand = value
	case propCustomLogo:
		a.ServerInfo.CustomLogo = value
	case propTotalStorage:
		a.AccountInfo.TotalStorage = parseInt64(value)
	case propUsedStorage:
		a.AccountInfo.UsedStorage = parseInt64(value)
	case propNickname:
		a.AccountInfo.Name = value
	}
}

func parseInt64(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}

	return n
}

func boolInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

// Close closes the prepared statements and the database connection.
func (s *Store) Close() error {
	s.logger.Info("closing accounts database")

	stmts := []*sql.Stmt{
		s.accountStmts.upsert, s.accountStmts.delete,
		s.accountStmts.updateVisited, s.accountStmts.clearToken,
		s.accountStmts.queryAll,
		s.propStmts.set, s.propStmts.queryByAccount,
	}

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				s.logger.Warn("error closing statement", "error", err)
			}
		}
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("account: close database: %w", err)
	}

	return nil
}
