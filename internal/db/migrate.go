package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/apifleet/apimanager/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// authConfigTables carry both the legacy single-descriptor columns and the
// descriptor list lifted from them.
var authConfigTables = []string{"api_providers", "external_apis"}

// migratePostgres applies PostgreSQL-specific schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errRename := conn.Exec(`
		DO $$
		BEGIN
			IF to_regclass('public.api_call_logs') IS NOT NULL AND to_regclass('public.call_logs') IS NULL THEN
				ALTER TABLE api_call_logs RENAME TO call_logs;
			END IF;
		END $$;
	`).Error; errRename != nil {
		return fmt.Errorf("db: rename api_call_logs: %w", errRename)
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.APIProvider{},
		&models.APIEndpoint{},
		&models.ExternalAPI{},
		&models.CallLog{},
		&models.APIKey{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	if errLift := migrateAuthConfigsPostgres(conn); errLift != nil {
		return errLift
	}

	_ = conn.Exec(`CREATE EXTENSION IF NOT EXISTS pg_trgm`).Error

	// ddl defines an index or DDL statement to apply.
	type ddl struct {
		name string // Human-readable name for error reporting.
		sql  string // SQL to execute.
	}
	ddls := []ddl{
		{
			name: "idx_call_logs_provider_id_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_call_logs_provider_id_created_at
				ON call_logs (provider_id, created_at DESC)
			`,
		},
		{
			name: "idx_call_logs_external_api_id_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_call_logs_external_api_id_created_at
				ON call_logs (external_api_id, created_at DESC)
			`,
		},
		{
			name: "idx_call_logs_success_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_call_logs_success_created_at
				ON call_logs (success, created_at DESC)
			`,
		},
		{
			name: "idx_api_providers_active_name",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_api_providers_active_name
				ON api_providers (is_active, name)
			`,
		},
		{
			name: "idx_external_apis_active_name",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_external_apis_active_name
				ON external_apis (is_active, name)
			`,
		},
		{
			name: "idx_api_endpoints_provider_active",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_api_endpoints_provider_active
				ON api_endpoints (provider_id)
				WHERE is_active = true
			`,
		},
		{
			name: "idx_api_keys_key_active",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_api_keys_key_active
				ON api_keys (api_key)
				WHERE active = true
			`,
		},
	}
	for _, item := range ddls {
		if errDDL := conn.Exec(item.sql).Error; errDDL != nil {
			return fmt.Errorf("db: create index %s: %w", item.name, errDDL)
		}
	}

	// trgmIndex defines trigram and fallback index statements.
	type trgmIndex struct {
		name     string // Logical index name.
		trgmSQL  string // Trigram index SQL.
		lowerSQL string // Lowercase fallback index SQL.
	}
	trgmIndexes := []trgmIndex{
		{
			name: "idx_api_providers_name",
			trgmSQL: `
				CREATE INDEX IF NOT EXISTS idx_api_providers_name_trgm
				ON api_providers USING gin (name gin_trgm_ops)
			`,
			lowerSQL: `
				CREATE INDEX IF NOT EXISTS idx_api_providers_name_lower
				ON api_providers (LOWER(name))
			`,
		},
		{
			name: "idx_external_apis_name",
			trgmSQL: `
				CREATE INDEX IF NOT EXISTS idx_external_apis_name_trgm
				ON external_apis USING gin (name gin_trgm_ops)
			`,
			lowerSQL: `
				CREATE INDEX IF NOT EXISTS idx_external_apis_name_lower
				ON external_apis (LOWER(name))
			`,
		},
		{
			name: "idx_api_keys_name",
			trgmSQL: `
				CREATE INDEX IF NOT EXISTS idx_api_keys_name_trgm
				ON api_keys USING gin (LOWER(name) gin_trgm_ops)
			`,
			lowerSQL: `
				CREATE INDEX IF NOT EXISTS idx_api_keys_name_lower
				ON api_keys (LOWER(name))
			`,
		},
	}
	for _, item := range trgmIndexes {
		if errIdx := conn.Exec(item.trgmSQL).Error; errIdx != nil {
			if errLower := conn.Exec(item.lowerSQL).Error; errLower != nil {
				return fmt.Errorf("db: create index %s: %w", item.name, errLower)
			}
		}
	}

	return nil
}

// migrateSQLite applies SQLite-specific schema updates and indexes.
func migrateSQLite(conn *gorm.DB) error {
	if errFix := fixSQLiteTimestampColumns(conn); errFix != nil {
		return errFix
	}

	if errRename := renameTableIfNeeded(conn, "api_call_logs", "call_logs"); errRename != nil {
		return fmt.Errorf("db: rename api_call_logs: %w", errRename)
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.APIProvider{},
		&models.APIEndpoint{},
		&models.ExternalAPI{},
		&models.CallLog{},
		&models.APIKey{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	if errLift := migrateAuthConfigsSQLite(conn); errLift != nil {
		return errLift
	}

	// ddl defines an index or DDL statement to apply.
	type ddl struct {
		name string // Human-readable name for error reporting.
		sql  string // SQL to execute.
	}
	ddls := []ddl{
		{
			name: "idx_call_logs_provider_id_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_call_logs_provider_id_created_at
				ON call_logs (provider_id, created_at DESC)
			`,
		},
		{
			name: "idx_call_logs_external_api_id_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_call_logs_external_api_id_created_at
				ON call_logs (external_api_id, created_at DESC)
			`,
		},
		{
			name: "idx_call_logs_success_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_call_logs_success_created_at
				ON call_logs (success, created_at DESC)
			`,
		},
		{
			name: "idx_api_providers_active_name",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_api_providers_active_name
				ON api_providers (is_active, name)
			`,
		},
		{
			name: "idx_external_apis_active_name",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_external_apis_active_name
				ON external_apis (is_active, name)
			`,
		},
		{
			name: "idx_api_endpoints_provider_active",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_api_endpoints_provider_active
				ON api_endpoints (provider_id)
				WHERE is_active = true
			`,
		},
		{
			name: "idx_api_keys_key_active",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_api_keys_key_active
				ON api_keys (api_key)
				WHERE active = true
			`,
		},
	}
	for _, item := range ddls {
		if errDDL := conn.Exec(item.sql).Error; errDDL != nil {
			return fmt.Errorf("db: create index %s: %w", item.name, errDDL)
		}
	}

	return nil
}

// migrateAuthConfigsPostgres lifts legacy single auth descriptors into
// one-element auth_configs lists. Legacy columns are left in place so
// older rows keep reading identically.
func migrateAuthConfigsPostgres(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: migrate auth configs: nil connection")
	}
	for _, table := range authConfigTables {
		liftSQL := fmt.Sprintf(`
			UPDATE %s
			SET auth_configs = jsonb_build_array(
				jsonb_build_object('type', COALESCE(NULLIF(auth_type, ''), 'none'), 'isActive', true) || auth_config
			)
			WHERE (auth_configs IS NULL OR jsonb_typeof(auth_configs) <> 'array' OR jsonb_array_length(auth_configs) = 0)
			AND auth_config IS NOT NULL
			AND jsonb_typeof(auth_config) = 'object'
		`, table)
		if errLift := conn.Exec(liftSQL).Error; errLift != nil {
			return fmt.Errorf("db: lift %s auth configs: %w", table, errLift)
		}

		synthSQL := fmt.Sprintf(`
			UPDATE %s
			SET auth_configs = jsonb_build_array(jsonb_build_object('type', auth_type, 'isActive', true))
			WHERE (auth_configs IS NULL OR jsonb_typeof(auth_configs) <> 'array' OR jsonb_array_length(auth_configs) = 0)
			AND (auth_config IS NULL OR jsonb_typeof(auth_config) <> 'object')
			AND NULLIF(auth_type, '') IS NOT NULL
			AND auth_type <> 'none'
		`, table)
		if errSynth := conn.Exec(synthSQL).Error; errSynth != nil {
			return fmt.Errorf("db: synthesize %s auth configs: %w", table, errSynth)
		}
	}
	return nil
}

// migrateAuthConfigsSQLite lifts legacy single auth descriptors into
// one-element auth_configs lists.
func migrateAuthConfigsSQLite(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: migrate auth configs: nil connection")
	}
	for _, table := range authConfigTables {
		liftSQL := fmt.Sprintf(`
			UPDATE %s
			SET auth_configs = json_array(
				json_patch(json_object('type', COALESCE(NULLIF(auth_type, ''), 'none'), 'isActive', json('true')), json(auth_config))
			)
			WHERE (auth_configs IS NULL OR json_valid(auth_configs) = 0 OR json_type(auth_configs) <> 'array' OR json_array_length(auth_configs) = 0)
			AND auth_config IS NOT NULL
			AND json_valid(auth_config)
			AND json_type(auth_config) = 'object'
		`, table)
		if errLift := conn.Exec(liftSQL).Error; errLift != nil {
			return fmt.Errorf("db: lift %s auth configs: %w", table, errLift)
		}

		synthSQL := fmt.Sprintf(`
			UPDATE %s
			SET auth_configs = json_array(json_object('type', auth_type, 'isActive', json('true')))
			WHERE (auth_configs IS NULL OR json_valid(auth_configs) = 0 OR json_type(auth_configs) <> 'array' OR json_array_length(auth_configs) = 0)
			AND (auth_config IS NULL OR json_valid(auth_config) = 0 OR json_type(auth_config) <> 'object')
			AND auth_type IS NOT NULL
			AND TRIM(auth_type) <> ''
			AND auth_type <> 'none'
		`, table)
		if errSynth := conn.Exec(synthSQL).Error; errSynth != nil {
			return fmt.Errorf("db: synthesize %s auth configs: %w", table, errSynth)
		}
	}
	return nil
}

// renameTableIfNeeded renames a table when the source exists and target is absent.
func renameTableIfNeeded(conn *gorm.DB, from, to string) error {
	migrator := conn.Migrator()
	if migrator == nil {
		return fmt.Errorf("db: nil migrator")
	}
	hasFrom := migrator.HasTable(from)
	hasTo := migrator.HasTable(to)
	if !hasFrom || hasTo {
		return nil
	}
	return migrator.RenameTable(from, to)
}

// sqliteTableInfo mirrors PRAGMA table_info output.
type sqliteTableInfo struct {
	Cid          int            `gorm:"column:cid"`        // Column index.
	Name         string         `gorm:"column:name"`       // Column name.
	Type         string         `gorm:"column:type"`       // Column type.
	NotNull      int            `gorm:"column:notnull"`    // Not-null flag.
	DefaultValue sql.NullString `gorm:"column:dflt_value"` // Default value string.
	PK           int            `gorm:"column:pk"`         // Primary key flag.
}

// fixSQLiteTimestampColumns rebuilds tables with incompatible timestamptz types.
func fixSQLiteTimestampColumns(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errDisable := conn.Exec("PRAGMA foreign_keys=OFF").Error; errDisable != nil {
		return fmt.Errorf("db: disable foreign keys: %w", errDisable)
	}
	defer func() {
		_ = conn.Exec("PRAGMA foreign_keys=ON").Error
	}()

	modelsToCheck := []any{
		&models.Admin{},
		&models.APIProvider{},
		&models.APIEndpoint{},
		&models.ExternalAPI{},
		&models.CallLog{},
		&models.APIKey{},
	}

	for _, model := range modelsToCheck {
		if errFix := rebuildSQLiteTableIfNeeded(conn, model); errFix != nil {
			return errFix
		}
	}

	return nil
}

// rebuildSQLiteTableIfNeeded recreates a SQLite table when legacy types are detected.
func rebuildSQLiteTableIfNeeded(conn *gorm.DB, model any) error {
	tableName, err := tableNameForModel(conn, model)
	if err != nil {
		return err
	}
	migrator := conn.Migrator()
	if migrator == nil || !migrator.HasTable(tableName) {
		return nil
	}

	var info []sqliteTableInfo
	pragmaSQL := fmt.Sprintf("PRAGMA table_info(%s)", quoteSQLiteIdentifier(tableName))
	if errQuery := conn.Raw(pragmaSQL).Scan(&info).Error; errQuery != nil {
		return fmt.Errorf("db: read sqlite table info %s: %w", tableName, errQuery)
	}

	needsRebuild := false
	oldColumns := make([]string, 0, len(info))
	for _, col := range info {
		if col.Name == "" {
			continue
		}
		oldColumns = append(oldColumns, col.Name)
		if strings.Contains(strings.ToLower(col.Type), "timestamptz") {
			needsRebuild = true
		}
	}
	if !needsRebuild {
		return nil
	}

	legacyName := uniqueSQLiteLegacyName(migrator, tableName)
	if errRename := migrator.RenameTable(tableName, legacyName); errRename != nil {
		return fmt.Errorf("db: rename sqlite table %s: %w", tableName, errRename)
	}

	if errCreate := conn.Table(tableName).AutoMigrate(model); errCreate != nil {
		return fmt.Errorf("db: recreate sqlite table %s: %w", tableName, errCreate)
	}

	newColumns := map[string]struct{}{}
	if colTypes, errCols := migrator.ColumnTypes(tableName); errCols == nil {
		for _, col := range colTypes {
			if col == nil {
				continue
			}
			if name := col.Name(); name != "" {
				newColumns[name] = struct{}{}
			}
		}
	}

	insertColumns := make([]string, 0, len(oldColumns))
	for _, col := range oldColumns {
		if _, ok := newColumns[col]; ok {
			insertColumns = append(insertColumns, col)
		}
	}
	if len(insertColumns) == 0 {
		if errDrop := migrator.DropTable(legacyName); errDrop != nil {
			return fmt.Errorf("db: drop sqlite legacy table %s: %w", legacyName, errDrop)
		}
		return nil
	}

	quotedColumns := make([]string, 0, len(insertColumns))
	for _, col := range insertColumns {
		quotedColumns = append(quotedColumns, quoteSQLiteIdentifier(col))
	}
	columnList := strings.Join(quotedColumns, ", ")
	copySQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s",
		quoteSQLiteIdentifier(tableName),
		columnList,
		columnList,
		quoteSQLiteIdentifier(legacyName),
	)
	if errCopy := conn.Exec(copySQL).Error; errCopy != nil {
		return fmt.Errorf("db: copy sqlite data for %s: %w", tableName, errCopy)
	}
	if errDrop := migrator.DropTable(legacyName); errDrop != nil {
		return fmt.Errorf("db: drop sqlite legacy table %s: %w", legacyName, errDrop)
	}

	return nil
}

// tableNameForModel resolves the table name for the provided model.
func tableNameForModel(conn *gorm.DB, model any) (string, error) {
	stmt := &gorm.Statement{DB: conn}
	if err := stmt.Parse(model); err != nil {
		return "", fmt.Errorf("db: parse model: %w", err)
	}
	if stmt.Schema == nil || stmt.Schema.Table == "" {
		return "", fmt.Errorf("db: resolve table name")
	}
	return stmt.Schema.Table, nil
}

// uniqueSQLiteLegacyName builds a non-conflicting legacy table name.
func uniqueSQLiteLegacyName(migrator gorm.Migrator, tableName string) string {
	base := tableName + "_legacy_tz"
	if !migrator.HasTable(base) {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if !migrator.HasTable(candidate) {
			return candidate
		}
	}
}

// quoteSQLiteIdentifier quotes a SQLite identifier safely.
func quoteSQLiteIdentifier(name string) string {
	if name == "" {
		return "\"\""
	}
	return "\"" + strings.ReplaceAll(name, "\"", "\"\"") + "\""
}
