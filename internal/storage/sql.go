package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"starbot/internal/metrics"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// insertChunkSize keeps multi-row inserts well under both drivers' bind parameter limits
const insertChunkSize = 500

var placeholderPattern = regexp.MustCompile(`\$\d+`)

// SQLStore persists links, bots and teams in Postgres or SQLite. Queries are
// written with $n placeholders and rebound for SQLite.
type SQLStore struct {
	db     *sql.DB
	driver string
}

func NewSQLStore(driver, databaseURL string) (*SQLStore, error) {
	dsn := databaseURL
	switch driver {
	case DriverPostgres:
		dsn = adjustDatabaseURLForEnvironment(databaseURL)
	case DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// a second connection to :memory: would see an empty database
		db.SetMaxOpenConns(1)
	}

	store := &SQLStore{db: db, driver: driver}
	if err := store.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func adjustDatabaseURLForEnvironment(databaseURL string) string {
	// Railway PostgreSQL does not accept SSL connections
	if os.Getenv("RAILWAY_ENVIRONMENT") == "" && !strings.Contains(databaseURL, "railway.app") {
		return databaseURL
	}

	parsedURL, err := url.Parse(databaseURL)
	if err != nil {
		return databaseURL
	}

	values := parsedURL.Query()
	values.Set("sslmode", "disable")
	parsedURL.RawQuery = values.Encode()
	return parsedURL.String()
}

func (s *SQLStore) InitSchema(ctx context.Context) error {
	slog.Info("Initializing database schema", "driver", s.driver)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS links (
			id VARCHAR(36) PRIMARY KEY,
			href TEXT NOT NULL,
			team_id VARCHAR(32) NOT NULL,
			channel_id VARCHAR(32) NOT NULL,
			channel_name VARCHAR(255),
			author VARCHAR(32),
			message_ts VARCHAR(32) NOT NULL,
			posted_at BIGINT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_links_href ON links(href)`,
		`CREATE INDEX IF NOT EXISTS idx_links_channel ON links(team_id, channel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_links_posted_at ON links(posted_at)`,
		`CREATE TABLE IF NOT EXISTS bots (
			team_id VARCHAR(32) PRIMARY KEY,
			bot_user_id VARCHAR(32) NOT NULL,
			token TEXT NOT NULL,
			scopes TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS teams (
			id VARCHAR(32) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			domain VARCHAR(255),
			bot_user_id VARCHAR(32),
			updated_at BIGINT NOT NULL
		)`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	slog.Info("Database schema initialization completed")
	return nil
}

func (s *SQLStore) FindExisting(ctx context.Context, hrefs []string) (found map[string]struct{}, err error) {
	defer observe("find_existing", time.Now(), &err)

	found = make(map[string]struct{})
	if len(hrefs) == 0 {
		return found, nil
	}

	var rows *sql.Rows
	if s.driver == DriverPostgres {
		rows, err = s.db.QueryContext(ctx, `SELECT href FROM links WHERE href = ANY($1)`, pq.Array(hrefs))
	} else {
		args := make([]interface{}, len(hrefs))
		for i, href := range hrefs {
			args[i] = href
		}
		query := `SELECT href FROM links WHERE href IN (` + placeholders(len(hrefs), 1) + `)`
		rows, err = s.db.QueryContext(ctx, s.rebind(query), args...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query existing links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var href string
		if err := rows.Scan(&href); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		found[href] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read existing links: %w", err)
	}

	return found, nil
}

// BulkInsert writes every link in one transaction. Hrefs that already exist,
// whether stored earlier or inserted concurrently by another scan, are skipped
// and not counted.
func (s *SQLStore) BulkInsert(ctx context.Context, links []Link) (inserted int, err error) {
	if len(links) == 0 {
		return 0, nil
	}
	defer observe("bulk_insert", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for start := 0; start < len(links); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(links) {
			end = len(links)
		}

		n, err := s.insertChunk(ctx, tx, links[start:end], now)
		if err != nil {
			return 0, err
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit links: %w", err)
	}

	return inserted, nil
}

func (s *SQLStore) insertChunk(ctx context.Context, tx *sql.Tx, links []Link, now time.Time) (int, error) {
	const columns = 9

	values := make([]string, 0, len(links))
	args := make([]interface{}, 0, len(links)*columns)
	for i, link := range links {
		id := link.ID
		if id == "" {
			id = uuid.New().String()
		}
		createdAt := link.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		values = append(values, "("+placeholders(columns, i*columns+1)+")")
		args = append(args,
			id,
			link.Href,
			link.TeamID,
			link.ChannelID,
			link.ChannelName,
			link.Author,
			link.MessageTS,
			toUnix(link.PostedAt),
			toUnix(createdAt),
		)
	}

	query := `
		INSERT INTO links (
			id, href, team_id, channel_id, channel_name, author, message_ts, posted_at, created_at
		) VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (href) DO NOTHING
		RETURNING href
	`

	rows, err := tx.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert links: %w", err)
	}
	defer rows.Close()

	inserted := 0
	for rows.Next() {
		inserted++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to insert links: %w", err)
	}

	return inserted, nil
}

func (s *SQLStore) ListLinks(ctx context.Context, filter LinkFilter) (links []Link, err error) {
	defer observe("list_links", time.Now(), &err)

	var conditions []string
	var args []interface{}
	if filter.TeamID != "" {
		args = append(args, filter.TeamID)
		conditions = append(conditions, fmt.Sprintf("team_id = $%d", len(args)))
	}
	if filter.ChannelID != "" {
		args = append(args, filter.ChannelID)
		conditions = append(conditions, fmt.Sprintf("channel_id = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, href, team_id, channel_id, channel_name, author, message_ts, posted_at, created_at
		FROM links`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY posted_at DESC, href ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var link Link
		var channelName, author sql.NullString
		var postedAt, createdAt int64

		err := rows.Scan(
			&link.ID,
			&link.Href,
			&link.TeamID,
			&link.ChannelID,
			&channelName,
			&author,
			&link.MessageTS,
			&postedAt,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}

		link.ChannelName = channelName.String
		link.Author = author.String
		link.PostedAt = fromUnix(postedAt)
		link.CreatedAt = fromUnix(createdAt)
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read links: %w", err)
	}

	return links, nil
}

func (s *SQLStore) CountLinks(ctx context.Context) (count int, err error) {
	defer observe("count_links", time.Now(), &err)

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM links`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count links: %w", err)
	}

	metrics.TotalLinks.Set(float64(count))
	return count, nil
}

// UpsertBot stores a freshly authorized bot. Reinstalling re-enables the record.
func (s *SQLStore) UpsertBot(ctx context.Context, bot BotRecord) (err error) {
	defer observe("upsert_bot", time.Now(), &err)

	now := toUnix(time.Now().UTC())
	query := `
		INSERT INTO bots (team_id, bot_user_id, token, scopes, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (team_id)
		DO UPDATE SET
			bot_user_id = EXCLUDED.bot_user_id,
			token = EXCLUDED.token,
			scopes = EXCLUDED.scopes,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, s.rebind(query),
		bot.TeamID,
		bot.BotUserID,
		bot.Token,
		strings.Join(bot.Scopes, ","),
		true,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert bot: %w", err)
	}

	return nil
}

// ListBots returns the enabled bots, the set to relaunch at startup
func (s *SQLStore) ListBots(ctx context.Context) (bots []BotRecord, err error) {
	defer observe("list_bots", time.Now(), &err)

	query := `
		SELECT team_id, bot_user_id, token, scopes, enabled, created_at, updated_at
		FROM bots
		WHERE enabled = $1
		ORDER BY team_id
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), true)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bot BotRecord
		var scopes string
		var createdAt, updatedAt int64

		if err := rows.Scan(&bot.TeamID, &bot.BotUserID, &bot.Token, &scopes, &bot.Enabled, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}

		if scopes != "" {
			bot.Scopes = strings.Split(scopes, ",")
		}
		bot.CreatedAt = fromUnix(createdAt)
		bot.UpdatedAt = fromUnix(updatedAt)
		bots = append(bots, bot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bots: %w", err)
	}

	return bots, nil
}

func (s *SQLStore) DisableBot(ctx context.Context, teamID string) (err error) {
	defer observe("disable_bot", time.Now(), &err)

	query := `UPDATE bots SET enabled = $1, updated_at = $2 WHERE team_id = $3`
	if _, err := s.db.ExecContext(ctx, s.rebind(query), false, toUnix(time.Now().UTC()), teamID); err != nil {
		return fmt.Errorf("failed to disable bot: %w", err)
	}

	return nil
}

func (s *SQLStore) UpsertTeam(ctx context.Context, team TeamRecord) (err error) {
	defer observe("upsert_team", time.Now(), &err)

	query := `
		INSERT INTO teams (id, name, domain, bot_user_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			domain = EXCLUDED.domain,
			bot_user_id = EXCLUDED.bot_user_id,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, s.rebind(query),
		team.ID,
		team.Name,
		team.Domain,
		team.BotUserID,
		toUnix(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert team: %w", err)
	}

	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites $n placeholders to ? for SQLite. Every query passes its
// arguments in placeholder order, so positional binding is preserved.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverSQLite {
		return query
	}
	return placeholderPattern.ReplaceAllString(query, "?")
}

// placeholders renders n comma-separated $k placeholders starting at from
func placeholders(n, from int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

func observe(operation string, start time.Time, err *error) {
	metrics.DatabaseOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	metrics.DatabaseOperations.WithLabelValues(operation, metrics.Status(*err)).Inc()
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromUnix(micros int64) time.Time {
	if micros == 0 {
		return time.Time{}
	}
	return time.UnixMicro(micros).UTC()
}
