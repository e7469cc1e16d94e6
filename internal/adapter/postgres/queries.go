package postgres

// schemaAuditEntries creates the append-only history table. The trigger
// rejects deletes and any update other than setting published_reference
// while it is still NULL.
const schemaAuditEntries = `
	CREATE TABLE IF NOT EXISTS audit_entries (
		seq                 BIGSERIAL PRIMARY KEY,
		id                  UUID        NOT NULL UNIQUE,
		source              TEXT        NOT NULL,
		sql_text            TEXT        NOT NULL,
		requested_by        TEXT        NOT NULL,
		request_ts          TIMESTAMPTZ NOT NULL,
		execution_plan_mode TEXT        NOT NULL,
		row_count           INTEGER     NOT NULL,
		column_count        INTEGER     NOT NULL,
		column_names        TEXT[]      NOT NULL,
		execution_ms        BIGINT      NOT NULL,
		succeeded           BOOLEAN     NOT NULL,
		error_message       TEXT        NOT NULL DEFAULT '',
		result_ts           TIMESTAMPTZ NOT NULL,
		integrity_hash      CHAR(64)    NOT NULL,
		published_reference TEXT
	);

	CREATE OR REPLACE FUNCTION audit_entries_guard() RETURNS trigger AS $$
	BEGIN
		IF TG_OP = 'DELETE' THEN
			RAISE EXCEPTION 'audit_entries is append-only';
		END IF;
		IF OLD.published_reference IS NOT NULL
			OR (to_jsonb(NEW) - 'published_reference') IS DISTINCT FROM (to_jsonb(OLD) - 'published_reference') THEN
			RAISE EXCEPTION 'audit_entries is append-only';
		END IF;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS audit_entries_append_only ON audit_entries;
	CREATE TRIGGER audit_entries_append_only
		BEFORE UPDATE OR DELETE ON audit_entries
		FOR EACH ROW EXECUTE FUNCTION audit_entries_guard();`

const auditColumns = `
	id, source, sql_text, requested_by, request_ts, execution_plan_mode,
	row_count, column_count, column_names, execution_ms, succeeded,
	error_message, result_ts, integrity_hash, published_reference`

const queryInsertEntry = `
	INSERT INTO audit_entries (` + auditColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NULL)`

const queryGetEntry = `SELECT ` + auditColumns + ` FROM audit_entries WHERE id = $1`

const queryRecentEntries = `SELECT ` + auditColumns + ` FROM audit_entries ORDER BY seq DESC LIMIT $1`

const queryAttachReference = `
	UPDATE audit_entries SET published_reference = $2
	WHERE id = $1 AND published_reference IS NULL`

const queryEntryExists = `SELECT EXISTS(SELECT 1 FROM audit_entries WHERE id = $1)`
