package database

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
)

type PostgresDB struct {
	db *sql.DB
}

func NewPostgresDB(connectionString string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PostgresDB{db: db}, nil
}

func (p *PostgresDB) Close() error { return p.db.Close() }

func (p *PostgresDB) SaveAttachment(ctx context.Context, a *Attachment) (int64, error) {
	query := `
        INSERT INTO task_attachments
            (task_id, filename, original_filename, file_path, file_size, mime_type, sha256, uploaded_by, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	var id int64
	err := p.db.QueryRowContext(ctx, query,
		a.TaskID,
		a.Filename,
		a.OriginalFilename,
		a.FilePath,
		a.FileSize,
		a.MimeType,
		a.SHA256,
		a.UploadedBy,
		a.CreatedAt,
	).Scan(&id)
	return id, err
}

func (p *PostgresDB) GetAttachment(ctx context.Context, id int64) (*Attachment, error) {
	query := `
        SELECT id, task_id, filename, original_filename, file_path, file_size, mime_type, sha256, uploaded_by, created_at
        FROM task_attachments
        WHERE id = $1
    `
	var a Attachment
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID,
		&a.TaskID,
		&a.Filename,
		&a.OriginalFilename,
		&a.FilePath,
		&a.FileSize,
		&a.MimeType,
		&a.SHA256,
		&a.UploadedBy,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *PostgresDB) ListTaskAttachments(ctx context.Context, taskID int64) ([]*Attachment, error) {
	query := `
        SELECT id, task_id, filename, original_filename, file_path, file_size, mime_type, sha256, uploaded_by, created_at
        FROM task_attachments
        WHERE task_id = $1
        ORDER BY created_at DESC
    `
	rows, err := p.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attachments []*Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Filename, &a.OriginalFilename, &a.FilePath,
			&a.FileSize, &a.MimeType, &a.SHA256, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		attachments = append(attachments, &a)
	}
	return attachments, rows.Err()
}

func (p *PostgresDB) DeleteAttachment(ctx context.Context, id int64) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM task_attachments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AttachmentPaths returns every stored path still referenced by a
// metadata record. The cleanup worker diffs the storage tree against
// this set.
func (p *PostgresDB) AttachmentPaths(ctx context.Context) (map[string]struct{}, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT file_path FROM task_attachments`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths[path] = struct{}{}
	}
	return paths, rows.Err()
}
