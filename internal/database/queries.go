package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"paperlens/internal/domain"
)

const maxErrorDetailLen = 1000

// StartRequest records a new request and returns its ID.
func (d *Database) StartRequest(ctx context.Context, r domain.RequestRecord) (int64, error) {
	if r.Kind != domain.RequestKindSummary && r.Kind != domain.RequestKindChat {
		return 0, fmt.Errorf("unknown request kind %q", r.Kind)
	}

	startedAt := r.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	query := `insert into requests (chat_id, kind, source, mime_type, size, status, started_at)
		values (?, ?, ?, ?, ?, ?, ?)`

	res, err := d.db.ExecContext(ctx, query,
		r.ChatID,
		string(r.Kind),
		string(r.Source),
		r.MIMEType,
		r.Size,
		string(domain.RequestStatusStarted),
		startedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert request: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get request ID: %w", err)
	}

	return id, nil
}

// FinishRequest stores the outcome of request id. A nil cause marks it
// done, anything else marks it failed.
func (d *Database) FinishRequest(ctx context.Context, id int64, chars int, cause error) error {
	status := domain.RequestStatusDone
	detail := ""
	if cause != nil {
		status = domain.RequestStatusFailed
		detail = truncate(cause.Error(), maxErrorDetailLen)
	}

	query := `update requests set status = ?, chars = ?, error_detail = ?, finished_at = ?
		where id = ? and status = ?`

	res, err := d.db.ExecContext(ctx, query,
		string(status),
		chars,
		detail,
		time.Now().UTC(),
		id,
		string(domain.RequestStatusStarted),
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return errors.New("request is missing or already finished")
	}

	return nil
}

func (d *Database) GetRequest(ctx context.Context, id int64) (domain.RequestRecord, error) {
	query := `select id, chat_id, kind, source, mime_type, size, status, chars, error_detail,
		started_at, finished_at from requests where id = ?`

	var (
		r          domain.RequestRecord
		kind       string
		source     string
		status     string
		finishedAt sql.NullTime
	)

	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&r.ID,
		&r.ChatID,
		&kind,
		&source,
		&r.MIMEType,
		&r.Size,
		&status,
		&r.Chars,
		&r.ErrorDetail,
		&r.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return domain.RequestRecord{}, fmt.Errorf("failed to scan row: %w", err)
	}

	r.Kind = domain.RequestKind(kind)
	r.Source = domain.Source(source)
	r.Status = domain.RequestStatus(status)
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}

	return r, nil
}

func (d *Database) GetChatStats(ctx context.Context, chatID int64) (domain.ChatStats, error) {
	query := `select kind, status, count(*) from requests where chat_id = ? group by kind, status`

	rows, err := d.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return domain.ChatStats{}, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"chatID", chatID,
				"operation", "GetChatStats")
		}
	}()

	stats := domain.ChatStats{ChatID: chatID}
	for rows.Next() {
		var (
			kind   string
			status string
			count  int64
		)
		if err = rows.Scan(&kind, &status, &count); err != nil {
			return domain.ChatStats{}, fmt.Errorf("failed to scan row: %w", err)
		}

		failed := domain.RequestStatus(status) == domain.RequestStatusFailed

		switch domain.RequestKind(kind) {
		case domain.RequestKindSummary:
			stats.Summaries += count
			if failed {
				stats.FailedSummaries += count
			}
		case domain.RequestKindChat:
			stats.Questions += count
			if failed {
				stats.FailedQuestions += count
			}
		}
	}

	if err = rows.Err(); err != nil {
		return domain.ChatStats{}, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return stats, nil
}

// PruneRequests deletes requests started before cutoff.
func (d *Database) PruneRequests(ctx context.Context, cutoff time.Time) (int64, error) {
	query := "delete from requests where started_at < ?"

	res, err := d.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete requests: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return n, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	r := []rune(s)
	if len(r) <= limit {
		return s
	}

	return string(r[:limit])
}
