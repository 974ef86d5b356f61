package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"HotTopics/internal/domain"
	"HotTopics/internal/ports"
)

// ErrNotFound is returned when an update targets a missing record.
var ErrNotFound = errors.New("storage: record not found")

// DefaultRetention is how long unanalysed topics stay eligible for analysis.
const DefaultRetention = 7 * 24 * time.Hour

// Options tune the repository.
type Options struct {
	// Retention bounds the age of topics returned by FetchUnanalyzed.
	Retention time.Duration
	Now       func() time.Time
}

// SQLRepository persists topics in SQLite or Postgres.
type SQLRepository struct {
	db        *sql.DB
	dialect   Dialect
	sb        sq.StatementBuilderType
	retention time.Duration
	now       func() time.Time
}

var _ ports.TopicRepository = (*SQLRepository)(nil)

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string, opts Options) (*SQLRepository, error) {
	db, dialect, err := openDB(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return NewSQLRepository(db, dialect, opts), nil
}

// NewSQLRepository wires an already opened sql.DB.
func NewSQLRepository(db *sql.DB, dialect Dialect, opts Options) *SQLRepository {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SQLRepository{
		db:        db,
		dialect:   dialect,
		sb:        dialect.builder(),
		retention: opts.Retention,
		now:       opts.Now,
	}
}

// Close releases the connection pool.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// Dialect reports which SQL flavour is in use.
func (r *SQLRepository) Dialect() Dialect {
	return r.dialect
}

// InsertRawTopicsIfAbsent stores topics whose link is not known yet and
// returns how many rows were actually inserted. A non-nil categoryID tags
// every inserted row.
func (r *SQLRepository) InsertRawTopicsIfAbsent(ctx context.Context, topics []domain.RawTopic, categoryID *int64) (int, error) {
	if len(topics) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage: begin insert: %w", err)
	}
	defer tx.Rollback()

	now := r.now().Unix()
	inserted := 0
	for _, topic := range topics {
		if strings.TrimSpace(topic.Link) == "" {
			continue
		}
		category := topic.CategoryID
		if categoryID != nil {
			category = categoryID
		}

		q := r.sb.Insert("raw_topics").
			Columns("title", "link", "source", "category_id", "matched_keyword", "created_at").
			Values(topic.Title, topic.Link, topic.Source, nullableID(category), topic.MatchedKeyword, now)
		if r.dialect == DialectPostgres {
			q = q.Suffix("ON CONFLICT (link) DO NOTHING")
		} else {
			q = q.Options("OR IGNORE")
		}

		query, args, err := q.ToSql()
		if err != nil {
			return 0, fmt.Errorf("storage: build insert: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("storage: insert raw topic: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("storage: rows affected: %w", err)
		}
		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage: commit insert: %w", err)
	}
	return inserted, nil
}

var rawColumns = []string{"id", "title", "link", "source", "category_id", "matched_keyword", "fail_count", "created_at"}

// FetchUnanalyzed returns the newest pending topics inside the retention window.
// Skipped topics and topics that failed more than maxFailCount times are excluded.
func (r *SQLRepository) FetchUnanalyzed(ctx context.Context, limit, maxFailCount int) ([]domain.RawTopic, error) {
	cutoff := r.now().Add(-r.retention).Unix()

	q := r.sb.Select(rawColumns...).
		From("raw_topics").
		Where(sq.Eq{"analyzed": 0, "skip_reason": ""}).
		Where(sq.LtOrEq{"fail_count": maxFailCount}).
		Where(sq.GtOrEq{"created_at": cutoff}).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	rows, err := r.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch unanalyzed: %w", err)
	}
	defer rows.Close()

	var out []domain.RawTopic
	for rows.Next() {
		topic, err := scanRaw(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan raw topic: %w", err)
		}
		out = append(out, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: rows iteration: %w", err)
	}
	return out, nil
}

// UpdateAnalysis records a scoring outcome. A failed outcome increments the
// fail counter and, with a SkipReason, retires the topic for good.
func (r *SQLRepository) UpdateAnalysis(ctx context.Context, update domain.AnalysisUpdate) error {
	q := r.sb.Update("raw_topics").Where(sq.Eq{"id": update.ID})
	if update.Analyzed {
		q = q.Set("score", update.Score).
			Set("comment", update.Comment).
			Set("analyzed", 1).
			Set("skip_reason", "").
			Set("analyzed_at", r.now().Unix())
	} else {
		q = q.Set("fail_count", sq.Expr("fail_count + 1"))
		if update.SkipReason != "" {
			q = q.Set("skip_reason", update.SkipReason)
		}
	}

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("storage: build update: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("storage: update analysis: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("raw topic %d: %w", update.ID, ErrNotFound)
	}
	return nil
}

// FetchTopScoring returns analysed topics from the last hoursWindow hours with
// score >= minScore, best first.
func (r *SQLRepository) FetchTopScoring(ctx context.Context, hoursWindow, limit int, minScore float64) ([]domain.ScoredTopic, error) {
	cutoff := r.now().Add(-time.Duration(hoursWindow) * time.Hour).Unix()

	q := r.sb.Select(append(rawColumns, "score", "comment")...).
		From("raw_topics").
		Where(sq.Eq{"analyzed": 1}).
		Where(sq.GtOrEq{"score": minScore}).
		Where(sq.GtOrEq{"created_at": cutoff}).
		OrderBy("score DESC", "created_at DESC", "id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	rows, err := r.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch top scoring: %w", err)
	}
	defer rows.Close()

	var out []domain.ScoredTopic
	for rows.Next() {
		var (
			topic    domain.ScoredTopic
			category sql.NullInt64
			score    sql.NullFloat64
			created  int64
		)
		if err := rows.Scan(&topic.ID, &topic.Title, &topic.Link, &topic.Source, &category,
			&topic.MatchedKeyword, &topic.FailCount, &created, &score, &topic.Comment); err != nil {
			return nil, fmt.Errorf("storage: scan scored topic: %w", err)
		}
		topic.CategoryID = idPtr(category)
		topic.CreatedAt = time.Unix(created, 0)
		topic.Score = score.Float64
		topic.Analyzed = true
		out = append(out, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: rows iteration: %w", err)
	}
	return out, nil
}

// ReplaceHotTopics swaps the published set in one transaction.
func (r *SQLRepository) ReplaceHotTopics(ctx context.Context, topics []domain.HotTopic) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage: begin replace: %w", err)
	}
	defer tx.Rollback()

	del, args, err := r.sb.Delete("hot_topics").ToSql()
	if err != nil {
		return 0, fmt.Errorf("storage: build delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, del, args...); err != nil {
		return 0, fmt.Errorf("storage: clear hot topics: %w", err)
	}

	if len(topics) > 0 {
		now := r.now().Unix()
		q := r.sb.Insert("hot_topics").
			Columns("ordinal", "title", "link", "source", "score", "comment", "category_id", "created_at")
		for i, topic := range topics {
			q = q.Values(i+1, topic.Title, topic.Link, topic.Source, topic.Score, topic.Comment, nullableID(topic.CategoryID), now)
		}
		query, args, err := q.ToSql()
		if err != nil {
			return 0, fmt.Errorf("storage: build hot topics insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("storage: insert hot topics: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage: commit replace: %w", err)
	}
	return len(topics), nil
}

// LoadHotTopics returns the published set in rank order.
func (r *SQLRepository) LoadHotTopics(ctx context.Context) ([]domain.HotTopic, error) {
	q := r.sb.Select("title", "link", "source", "score", "comment", "category_id").
		From("hot_topics").
		OrderBy("ordinal ASC")

	rows, err := r.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: load hot topics: %w", err)
	}
	defer rows.Close()

	var out []domain.HotTopic
	for rows.Next() {
		var (
			topic    domain.HotTopic
			category sql.NullInt64
		)
		if err := rows.Scan(&topic.Title, &topic.Link, &topic.Source, &topic.Score, &topic.Comment, &category); err != nil {
			return nil, fmt.Errorf("storage: scan hot topic: %w", err)
		}
		topic.CategoryID = idPtr(category)
		out = append(out, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: rows iteration: %w", err)
	}
	return out, nil
}

// PruneRawTopics deletes topics created before the cutoff unless they are
// currently published.
func (r *SQLRepository) PruneRawTopics(ctx context.Context, before time.Time) (int, error) {
	query, args, err := r.sb.Delete("raw_topics").
		Where(sq.Lt{"created_at": before.Unix()}).
		Where("link NOT IN (SELECT link FROM hot_topics)").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("storage: build prune: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("storage: prune raw topics: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: rows affected: %w", err)
	}
	return int(affected), nil
}

// Stats summarizes the raw store.
func (r *SQLRepository) Stats(ctx context.Context) (domain.Stats, error) {
	q := r.sb.Select(
		"COUNT(*)",
		"COALESCE(SUM(CASE WHEN analyzed = 1 THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(CASE WHEN analyzed = 0 AND skip_reason = '' THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(CASE WHEN analyzed = 0 AND skip_reason <> '' THEN 1 ELSE 0 END), 0)",
		"COALESCE(AVG(CASE WHEN analyzed = 1 THEN score END), 0)",
	).From("raw_topics")

	query, args, err := q.ToSql()
	if err != nil {
		return domain.Stats{}, fmt.Errorf("storage: build stats: %w", err)
	}

	var stats domain.Stats
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total, &stats.Analyzed, &stats.Unanalyzed, &stats.Skipped, &stats.AvgScore,
	); err != nil {
		return domain.Stats{}, fmt.Errorf("storage: stats: %w", err)
	}
	return stats, nil
}

// CategorySeed describes a configured category and its platforms.
type CategorySeed struct {
	Name      string
	Keywords  []string
	Platforms []string
}

// SeedCategories upserts categories by name and replaces their platform lists.
func (r *SQLRepository) SeedCategories(ctx context.Context, seeds []CategorySeed) error {
	if len(seeds) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin seed: %w", err)
	}
	defer tx.Rollback()

	now := r.now().Unix()
	for _, seed := range seeds {
		name := strings.TrimSpace(seed.Name)
		if name == "" {
			continue
		}
		keywords, err := json.Marshal(nonNil(seed.Keywords))
		if err != nil {
			return fmt.Errorf("storage: encode keywords: %w", err)
		}

		upsert, args, err := r.sb.Insert("categories").
			Columns("name", "keywords", "enabled", "created_at").
			Values(name, string(keywords), 1, now).
			Suffix("ON CONFLICT (name) DO UPDATE SET keywords = excluded.keywords, enabled = 1").
			ToSql()
		if err != nil {
			return fmt.Errorf("storage: build category upsert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, upsert, args...); err != nil {
			return fmt.Errorf("storage: upsert category %s: %w", name, err)
		}

		idQuery, idArgs, err := r.sb.Select("id").From("categories").Where(sq.Eq{"name": name}).ToSql()
		if err != nil {
			return fmt.Errorf("storage: build category lookup: %w", err)
		}
		var id int64
		if err := tx.QueryRowContext(ctx, idQuery, idArgs...).Scan(&id); err != nil {
			return fmt.Errorf("storage: lookup category %s: %w", name, err)
		}

		del, delArgs, err := r.sb.Delete("category_platforms").Where(sq.Eq{"category_id": id}).ToSql()
		if err != nil {
			return fmt.Errorf("storage: build platform delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, del, delArgs...); err != nil {
			return fmt.Errorf("storage: clear platforms of %s: %w", name, err)
		}

		seen := map[string]struct{}{}
		for _, platform := range seed.Platforms {
			platform = strings.TrimSpace(platform)
			if _, dup := seen[platform]; dup || platform == "" {
				continue
			}
			seen[platform] = struct{}{}
			ins, insArgs, err := r.sb.Insert("category_platforms").
				Columns("category_id", "platform", "enabled").
				Values(id, platform, 1).
				ToSql()
			if err != nil {
				return fmt.Errorf("storage: build platform insert: %w", err)
			}
			if _, err := tx.ExecContext(ctx, ins, insArgs...); err != nil {
				return fmt.Errorf("storage: insert platform %s/%s: %w", name, platform, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit seed: %w", err)
	}
	return nil
}

// FetchCategoriesWithKeywords lists enabled categories that have at least one keyword.
func (r *SQLRepository) FetchCategoriesWithKeywords(ctx context.Context) ([]domain.Category, error) {
	q := r.sb.Select("id", "name", "keywords").
		From("categories").
		Where(sq.Eq{"enabled": 1}).
		OrderBy("id ASC")

	rows, err := r.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch categories: %w", err)
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		if len(category.Keywords) == 0 {
			continue
		}
		out = append(out, category)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: rows iteration: %w", err)
	}
	return out, nil
}

// FetchCategory looks a single category up by id.
func (r *SQLRepository) FetchCategory(ctx context.Context, id int64) (domain.Category, bool, error) {
	q := r.sb.Select("id", "name", "keywords").From("categories").Where(sq.Eq{"id": id})

	rows, err := r.query(ctx, q)
	if err != nil {
		return domain.Category{}, false, fmt.Errorf("storage: fetch category: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.Category{}, false, fmt.Errorf("storage: rows iteration: %w", err)
		}
		return domain.Category{}, false, nil
	}
	category, err := scanCategory(rows)
	if err != nil {
		return domain.Category{}, false, err
	}
	return category, true, nil
}

// FetchEnabledPlatformsForCategory lists the platform ids enabled for a category.
func (r *SQLRepository) FetchEnabledPlatformsForCategory(ctx context.Context, id int64) ([]string, error) {
	q := r.sb.Select("platform").
		From("category_platforms").
		Where(sq.Eq{"category_id": id, "enabled": 1}).
		OrderBy("platform ASC")

	rows, err := r.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch platforms: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var platform string
		if err := rows.Scan(&platform); err != nil {
			return nil, fmt.Errorf("storage: scan platform: %w", err)
		}
		out = append(out, platform)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: rows iteration: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) query(ctx context.Context, q sq.SelectBuilder) (*sql.Rows, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.db.QueryContext(ctx, query, args...)
}

func scanRaw(rows *sql.Rows) (domain.RawTopic, error) {
	var (
		topic    domain.RawTopic
		category sql.NullInt64
		created  int64
	)
	if err := rows.Scan(&topic.ID, &topic.Title, &topic.Link, &topic.Source, &category,
		&topic.MatchedKeyword, &topic.FailCount, &created); err != nil {
		return domain.RawTopic{}, err
	}
	topic.CategoryID = idPtr(category)
	topic.CreatedAt = time.Unix(created, 0)
	return topic, nil
}

func scanCategory(rows *sql.Rows) (domain.Category, error) {
	var (
		category domain.Category
		keywords string
	)
	if err := rows.Scan(&category.ID, &category.Name, &keywords); err != nil {
		return domain.Category{}, fmt.Errorf("storage: scan category: %w", err)
	}
	if err := json.Unmarshal([]byte(keywords), &category.Keywords); err != nil {
		return domain.Category{}, fmt.Errorf("storage: decode keywords of %s: %w", category.Name, err)
	}
	return category, nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func idPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
