package store

// Migration is one versioned, append-only schema change.
type Migration struct {
	Version int
	SQL     string
}

// migrations defines the mailcore schema: the message/fold identity
// named in the data model, MIME part records, attachments
// (deduplicated by sha256 against the blob store), and the render
// cache keyed by message id and generator version. Table/column
// naming follows the teacher's migrations.go conventions (lower
// snake_case, explicit foreign keys, partial indexes where useful).
var migrations = []Migration{
	{
		Version: 1,
		SQL: `
			CREATE TABLE folders (
				account_id TEXT NOT NULL,
				name TEXT NOT NULL,
				delimiter TEXT NOT NULL DEFAULT '/',
				uidvalidity INTEGER NOT NULL DEFAULT 0,
				attributes TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (account_id, name)
			);

			CREATE TABLE messages (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL,
				folder_name TEXT NOT NULL,
				uid INTEGER NOT NULL,
				uidvalidity INTEGER NOT NULL,

				message_id TEXT,
				in_reply_to TEXT,
				references_json TEXT,
				thread_id TEXT,

				subject TEXT NOT NULL DEFAULT '',
				from_name TEXT NOT NULL DEFAULT '',
				from_address TEXT NOT NULL DEFAULT '',
				to_json TEXT,
				cc_json TEXT,
				bcc_json TEXT,
				date DATETIME,
				read_receipt_to TEXT,

				flags TEXT NOT NULL DEFAULT '',
				size INTEGER NOT NULL DEFAULT 0,
				has_attachments INTEGER NOT NULL DEFAULT 0,

				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,

				UNIQUE (account_id, folder_name, uidvalidity, uid)
			);

			CREATE INDEX idx_messages_account_folder ON messages(account_id, folder_name);
			CREATE INDEX idx_messages_thread ON messages(thread_id);
			CREATE INDEX idx_messages_message_id ON messages(message_id);

			CREATE TABLE mime_parts (
				message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
				section_id TEXT NOT NULL,
				parent_section_id TEXT NOT NULL DEFAULT '',
				media_type TEXT NOT NULL,
				charset TEXT NOT NULL DEFAULT '',
				transfer_encoding TEXT NOT NULL DEFAULT '',
				disposition TEXT NOT NULL DEFAULT '',
				original_filename TEXT NOT NULL DEFAULT '',
				sanitized_filename TEXT NOT NULL DEFAULT '',
				content_id TEXT NOT NULL DEFAULT '',
				declared_size INTEGER NOT NULL DEFAULT 0,
				stored_size INTEGER NOT NULL DEFAULT 0,
				sha256 TEXT NOT NULL DEFAULT '',
				is_attachment INTEGER NOT NULL DEFAULT 0,

				PRIMARY KEY (message_id, section_id)
			);

			CREATE TABLE attachments (
				id TEXT PRIMARY KEY,
				message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
				section_id TEXT NOT NULL,
				filename TEXT NOT NULL,
				media_type TEXT NOT NULL,
				size INTEGER NOT NULL DEFAULT 0,
				content_id TEXT NOT NULL DEFAULT '',
				is_inline INTEGER NOT NULL DEFAULT 0,
				sha256 TEXT NOT NULL,
				blob_key TEXT NOT NULL
			);

			CREATE INDEX idx_attachments_message ON attachments(message_id);
			CREATE INDEX idx_attachments_sha256 ON attachments(sha256);

			CREATE TABLE render_cache (
				message_id TEXT PRIMARY KEY REFERENCES messages(id) ON DELETE CASCADE,
				generator_version INTEGER NOT NULL,
				text_rendered TEXT NOT NULL DEFAULT '',
				html_rendered TEXT NOT NULL DEFAULT '',
				warnings_json TEXT NOT NULL DEFAULT '[]',
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE blobs (
				sha256 TEXT PRIMARY KEY,
				ref_count INTEGER NOT NULL DEFAULT 0
			);
		`,
	},
}
