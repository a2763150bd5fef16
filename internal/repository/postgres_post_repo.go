package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/telecast/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した投稿履歴リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// IsPosted は指定URLが投稿済みかどうかを返す。
func (r *PostgresPostRepo) IsPosted(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE url = $1)`,
		url,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("投稿済み判定に失敗しました: %w", err)
	}
	return exists, nil
}

// Add は投稿履歴を追加する。urlが既に存在する場合はfalseを返す。
// ON CONFLICT DO NOTHINGにより、並行実行時も一意制約で安全に判定される。
func (r *PostgresPostRepo) Add(ctx context.Context, title, url string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, title, url)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (url) DO NOTHING`,
		uuid.New().String(), title, url,
	)
	if err != nil {
		return false, fmt.Errorf("投稿履歴の追加に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("追加件数の取得に失敗しました: %w", err)
	}

	return affected > 0, nil
}

// ListRecent は直近の投稿をposted_at降順で最大limit件返す。
func (r *PostgresPostRepo) ListRecent(ctx context.Context, limit int) ([]model.PostRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, url, posted_at, updated_at
		 FROM posts
		 ORDER BY posted_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("投稿履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []model.PostRecord
	for rows.Next() {
		var p model.PostRecord
		if err := rows.Scan(&p.ID, &p.Title, &p.URL, &p.PostedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("投稿履歴のスキャンに失敗しました: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿履歴の走査に失敗しました: %w", err)
	}

	return posts, nil
}

// CountAll は全投稿数を返す。
func (r *PostgresPostRepo) CountAll(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("投稿数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// CountToday は当日（DBサーバーの暦日基準）の投稿数を返す。
func (r *PostgresPostRepo) CountToday(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE posted_at >= date_trunc('day', now())`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("当日投稿数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// LastPostedAt は最後の投稿日時を返す。投稿がない場合はnilを返す。
func (r *PostgresPostRepo) LastPostedAt(ctx context.Context) (*time.Time, error) {
	var postedAt time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT posted_at FROM posts ORDER BY posted_at DESC LIMIT 1`,
	).Scan(&postedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("最終投稿日時の取得に失敗しました: %w", err)
	}

	return &postedAt, nil
}

// DeleteOlderThan は指定日数より古い投稿を削除し、削除件数を返す。
func (r *PostgresPostRepo) DeleteOlderThan(ctx context.Context, days int) (int, error) {
	interval := fmt.Sprintf("%d days", days)

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM posts WHERE posted_at < now() - $1::interval`,
		interval,
	)
	if err != nil {
		return 0, fmt.Errorf("古い投稿の削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}

	return int(deleted), nil
}

// TouchUpdated は指定URLの投稿のupdated_atを現在時刻に更新する。
func (r *PostgresPostRepo) TouchUpdated(ctx context.Context, url string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE posts SET updated_at = now() WHERE url = $1`,
		url,
	)
	if err != nil {
		return fmt.Errorf("投稿の更新日時の変更に失敗しました: %w", err)
	}
	return nil
}
