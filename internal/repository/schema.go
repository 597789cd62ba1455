package repository

// schema is applied in full on every Open call via CREATE TABLE IF NOT
// EXISTS statements. The logical shape follows the original project's
// alembic migrations (initial schema plus the later additions for
// users, subscriptions, chat, and YouTube support); migration history
// itself is out of scope (spec §1), only the resulting shape matters.
const schema = `
CREATE TABLE IF NOT EXISTS podcasts (
	id                  TEXT PRIMARY KEY,
	source_type         TEXT NOT NULL DEFAULT 'rss',
	feed_url            TEXT NOT NULL UNIQUE,
	website_url         TEXT,
	title               TEXT NOT NULL,
	description         TEXT,
	image_url           TEXT,
	author              TEXT,
	language            TEXT,
	local_directory     TEXT,
	last_checked        DATETIME,
	last_new_episode    DATETIME,
	check_frequency_hours INTEGER NOT NULL DEFAULT 24,
	channel_id          TEXT,
	playlist_id         TEXT,
	handle              TEXT,
	description_status        TEXT NOT NULL DEFAULT 'pending',
	description_error         TEXT,
	description_resource_name TEXT,
	description_display_name  TEXT,
	description_uploaded_at   DATETIME,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS episodes (
	id                TEXT PRIMARY KEY,
	podcast_id        TEXT NOT NULL REFERENCES podcasts(id) ON DELETE CASCADE,
	guid              TEXT NOT NULL,
	source_type       TEXT NOT NULL DEFAULT 'podcast_episode',
	title             TEXT NOT NULL,
	description       TEXT,
	published_date    DATETIME,
	duration_seconds  INTEGER,
	episode_number    INTEGER,
	season_number     INTEGER,
	enclosure_url     TEXT,
	enclosure_type    TEXT,
	enclosure_length  INTEGER,

	download_status          TEXT NOT NULL DEFAULT 'pending',
	download_error           TEXT,
	downloaded_at            DATETIME,
	local_file_path          TEXT,
	file_size_bytes          INTEGER,
	file_hash                TEXT,

	transcript_status        TEXT NOT NULL DEFAULT 'pending',
	transcript_error         TEXT,
	transcribed_at           DATETIME,
	transcript_text          TEXT,
	transcript_path          TEXT,
	transcript_source        TEXT,
	transcript_retry_count   INTEGER NOT NULL DEFAULT 0,

	metadata_status          TEXT NOT NULL DEFAULT 'pending',
	metadata_error           TEXT,
	ai_summary               TEXT,
	ai_keywords              TEXT,
	ai_hosts                 TEXT,
	ai_guests                TEXT,
	ai_email_content         TEXT,
	mp3_artist               TEXT,
	mp3_album                TEXT,
	metadata_retry_count     INTEGER NOT NULL DEFAULT 0,

	file_search_status       TEXT NOT NULL DEFAULT 'pending',
	file_search_error        TEXT,
	resource_name            TEXT,
	display_name             TEXT,
	uploaded_at              DATETIME,
	file_search_retry_count  INTEGER NOT NULL DEFAULT 0,

	youtube_captions_available INTEGER NOT NULL DEFAULT 0,
	youtube_caption_language   TEXT,

	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	UNIQUE(podcast_id, guid)
);

CREATE INDEX IF NOT EXISTS idx_episodes_download_pending
	ON episodes(download_status, published_date DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_episodes_transcript_pending
	ON episodes(transcript_status, download_status);
CREATE INDEX IF NOT EXISTS idx_episodes_post_processing
	ON episodes(transcript_status, metadata_status, file_search_status);

CREATE TABLE IF NOT EXISTS users (
	id                     TEXT PRIMARY KEY,
	external_oauth_id      TEXT NOT NULL UNIQUE,
	email                  TEXT NOT NULL UNIQUE,
	name                   TEXT,
	is_admin               INTEGER NOT NULL DEFAULT 0,
	email_digest_enabled   INTEGER NOT NULL DEFAULT 0,
	email_digest_hour      INTEGER NOT NULL DEFAULT 8,
	timezone               TEXT NOT NULL DEFAULT 'UTC',
	last_email_digest_sent DATETIME,
	created_at             DATETIME NOT NULL,
	updated_at             DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS user_subscriptions (
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	podcast_id TEXT NOT NULL REFERENCES podcasts(id) ON DELETE CASCADE,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (user_id, podcast_id)
);

CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	podcast_id    TEXT REFERENCES podcasts(id) ON DELETE SET NULL,
	episode_id    TEXT REFERENCES episodes(id) ON DELETE SET NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	citations       TEXT,
	created_at      DATETIME NOT NULL
);
`
