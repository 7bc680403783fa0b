package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"engagement-scraper/internal/database/models"
	"engagement-scraper/pkg/types"
)

const analysisColumns = `id, url, target_kind, success, error_message, likes_count, comments_count,
		degraded_count, sources_count, extraction_ms, post, comments, scraped_at, created_at`

// SaveAnalysis stores a run envelope and its profiles in one transaction.
func (db *DB) SaveAnalysis(ctx context.Context, result types.ScrapeResult) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	data := result.Data
	scrapedAt := data.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = db.timestamp()
	}
	query := db.rebind(`
		INSERT INTO analyses (
			url, target_kind, success, error_message, likes_count, comments_count,
			degraded_count, sources_count, extraction_ms, post, comments, scraped_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	var id int64
	err = tx.QueryRowContext(ctx, query,
		data.SourceURL, string(data.TargetKind), result.Success, result.Error,
		len(data.Likes), len(data.Comments), data.Stats.DegradedCount, len(data.Sources),
		data.Stats.ExtractionMilli, models.PostDocument{PostRecord: data.Post},
		models.CommentList(data.Comments), scrapedAt.UTC(), db.timestamp(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert analysis: %w", err)
	}

	profileQuery := db.rebind(`
		INSERT INTO analysis_profiles (
			analysis_id, position, name, job_title, company, profile_url, post_author, degraded, discovered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (analysis_id, profile_url) DO UPDATE SET
			name = EXCLUDED.name,
			job_title = EXCLUDED.job_title,
			company = EXCLUDED.company,
			degraded = EXCLUDED.degraded`)
	for i, p := range data.Likes {
		discovered := p.DiscoveredAt
		if discovered.IsZero() {
			discovered = scrapedAt
		}
		_, err := tx.ExecContext(ctx, profileQuery,
			id, i, p.Name, p.JobTitle, p.Company, p.ProfileURL, p.PostAuthor, p.Degraded, discovered.UTC())
		if err != nil {
			return 0, fmt.Errorf("failed to insert profile %s: %w", p.ProfileURL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit analysis: %w", err)
	}
	db.logger.Infof("Analysis stored with ID %d (%d profiles)", id, len(data.Likes))
	return id, nil
}

// RecentAnalyses returns the newest analyses first.
func (db *DB) RecentAnalyses(ctx context.Context, limit int) ([]*models.Analysis, error) {
	query := db.rebind(`SELECT ` + analysisColumns + `
		FROM analyses
		ORDER BY created_at DESC, id DESC
		LIMIT ?`)

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var analyses []*models.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}
	return analyses, rows.Err()
}

func (db *DB) GetAnalysis(ctx context.Context, id int64) (*models.Analysis, error) {
	query := db.rebind(`SELECT ` + analysisColumns + ` FROM analyses WHERE id = ?`)
	a, err := scanAnalysis(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis %d: %w", id, ErrNotFound)
	}
	return a, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row scanner) (*models.Analysis, error) {
	a := &models.Analysis{}
	err := row.Scan(
		&a.ID, &a.URL, &a.TargetKind, &a.Success, &a.ErrorMessage, &a.LikesCount, &a.CommentsCount,
		&a.DegradedCount, &a.SourcesCount, &a.ExtractionMs, &a.Post, &a.Comments, &a.ScrapedAt, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan analysis: %w", err)
	}
	return a, nil
}

// AnalysisProfiles returns the profiles of one analysis in discovery order.
func (db *DB) AnalysisProfiles(ctx context.Context, analysisID int64) ([]*models.AnalysisProfile, error) {
	query := db.rebind(`
		SELECT id, analysis_id, position, name, job_title, company, profile_url, post_author, degraded, discovered_at
		FROM analysis_profiles
		WHERE analysis_id = ?
		ORDER BY position`)

	rows, err := db.conn.QueryContext(ctx, query, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.AnalysisProfile
	for rows.Next() {
		p := &models.AnalysisProfile{}
		err := rows.Scan(&p.ID, &p.AnalysisID, &p.Position, &p.Name, &p.JobTitle, &p.Company,
			&p.ProfileURL, &p.PostAuthor, &p.Degraded, &p.DiscoveredAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// GetScrapingStats returns aggregate statistics; "recent" means the
// analyses of the last since.
func (db *DB) GetScrapingStats(ctx context.Context, since time.Duration) (*models.ScrapingStats, error) {
	stats := &models.ScrapingStats{AnalysesByKind: make(map[string]int)}
	cutoff := db.timestamp().Add(-since)

	err := db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN success = ? THEN 1 ELSE 0 END), 0)
		FROM analyses`), true).Scan(&stats.TotalAnalyses, &stats.SuccessfulAnalyses)
	if err != nil {
		return nil, fmt.Errorf("failed to get total analyses: %w", err)
	}

	err = db.conn.QueryRowContext(ctx, db.rebind(`SELECT COUNT(*) FROM analyses WHERE created_at >= ?`), cutoff).
		Scan(&stats.RecentAnalyses)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent analyses: %w", err)
	}

	err = db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN degraded = ? THEN 1 ELSE 0 END), 0)
		FROM analysis_profiles`), true).Scan(&stats.TotalProfiles, &stats.DegradedProfiles)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile counts: %w", err)
	}
	if stats.SuccessfulAnalyses > 0 {
		stats.AverageProfiles = float64(stats.TotalProfiles) / float64(stats.SuccessfulAnalyses)
	}

	var topAuthor sql.NullString
	err = db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT post_author FROM analysis_profiles
		WHERE post_author <> ?
		GROUP BY post_author
		ORDER BY COUNT(*) DESC, post_author
		LIMIT 1`), "").Scan(&topAuthor)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get top post author: %w", err)
	}
	if topAuthor.Valid {
		stats.TopPostAuthor = topAuthor.String
	} else {
		stats.TopPostAuthor = "None"
	}

	var last sql.NullTime
	err = db.conn.QueryRowContext(ctx, `SELECT created_at FROM analyses ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get last analysis time: %w", err)
	}
	if last.Valid {
		t := last.Time
		stats.LastAnalysisAt = &t
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT target_kind, COUNT(*) FROM analyses GROUP BY target_kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to get analyses by kind: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			continue
		}
		stats.AnalysesByKind[kind] = count
	}
	return stats, rows.Err()
}

// GetTopCompanies returns the employers most represented among engaged
// profiles, ignoring unresolved ones.
func (db *DB) GetTopCompanies(ctx context.Context, limit int) ([]models.CompanyCount, error) {
	query := db.rebind(`
		SELECT company, COUNT(*) AS profiles
		FROM analysis_profiles
		WHERE company <> ?
		GROUP BY company
		ORDER BY profiles DESC, company
		LIMIT ?`)

	rows, err := db.conn.QueryContext(ctx, query, types.NotSpecified, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top companies: %w", err)
	}
	defer rows.Close()

	var companies []models.CompanyCount
	for rows.Next() {
		var c models.CompanyCount
		if err := rows.Scan(&c.Company, &c.Profiles); err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, c)
	}
	return companies, rows.Err()
}
