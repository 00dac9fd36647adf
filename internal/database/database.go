// Package database 用 SQLite 记录每一次投递到聊天室的条目，供 !recent 查询。
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/iabetor/feedbot/internal/logger"
	_ "modernc.org/sqlite"
)

// 投递状态。
const (
	StatusSent    = "sent"    // 轮询发送成功
	StatusFailed  = "failed"  // 轮询发送失败（历史已记录，不会重发）
	StatusReplied = "replied" // 通过 !stories 命令回复
)

// Delivery 一条投递记录。
type Delivery struct {
	ID        string
	Feed      string
	EntryID   string
	Title     string
	Link      string
	Status    string
	Error     string
	CreatedAt time.Time
}

// Journal 投递记录。
type Journal struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open 打开或创建投递记录数据库并完成迁移。
func Open(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// 轮询协程和命令处理都会写入，单连接避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 WAL 模式失败: %w", err)
	}

	j := &Journal{db: db, path: dbPath, now: time.Now}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Infof("[journal] 数据库已打开: %s", dbPath)
	return j, nil
}

// Path 返回数据库文件路径。
func (j *Journal) Path() string { return j.path }

func (j *Journal) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			feed TEXT NOT NULL,
			entry_id TEXT NOT NULL,
			title TEXT DEFAULT '',
			link TEXT DEFAULT '',
			status TEXT NOT NULL,
			error TEXT DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_feed_created ON deliveries(feed, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_created ON deliveries(created_at)`,
	}
	for _, m := range migrations {
		if _, err := j.db.Exec(m); err != nil {
			return fmt.Errorf("数据库迁移失败: %w", err)
		}
	}
	return nil
}

// Record 写入投递记录。ID 和时间为空时自动生成。
func (j *Journal) Record(ctx context.Context, deliveries ...Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO deliveries
		(id, feed, entry_id, title, link, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("准备语句失败: %w", err)
	}
	defer stmt.Close()

	for _, d := range deliveries {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = j.now()
		}
		if _, err := stmt.ExecContext(ctx, d.ID, d.Feed, d.EntryID, d.Title, d.Link,
			d.Status, d.Error, d.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("写入投递记录失败: %w", err)
		}
	}
	return tx.Commit()
}

// Recent 按时间倒序返回最近的投递记录。feed 为空时返回所有订阅源。
func (j *Journal) Recent(ctx context.Context, feed string, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT id, feed, entry_id, title, link, status, error, created_at
		FROM deliveries`
	args := []any{}
	if feed != "" {
		query += ` WHERE feed = ?`
		args = append(args, feed)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询投递记录失败: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		var created int64
		if err := rows.Scan(&d.ID, &d.Feed, &d.EntryID, &d.Title, &d.Link,
			&d.Status, &d.Error, &created); err != nil {
			return nil, fmt.Errorf("读取投递记录失败: %w", err)
		}
		d.CreatedAt = time.UnixMilli(created)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Prune 删除早于 before 的记录，返回删除的行数。
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM deliveries WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("清理投递记录失败: %w", err)
	}
	return res.RowsAffected()
}

// Close 关闭数据库连接。
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}
