package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rmarchant/sheetscan/internal/domain"
	_ "github.com/lib/pq"
)

const sessionSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	source JSONB,
	edit_state JSONB NOT NULL,
	upload_result JSONB,
	convert_result JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type PostgresSessionStore struct {
	db *sql.DB
}

func NewPostgresSessionStore(ctx context.Context, dsn string) (*PostgresSessionStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresSessionStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresSessionStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sessionSchemaSQL); err != nil {
		return fmt.Errorf("ensure sessions schema: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) Close() error {
	return s.db.Close()
}

func (s *PostgresSessionStore) Create(ctx context.Context, sess domain.Session) error {
	source, edit, upload, err := marshalSessionFields(sess)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (id, status, source, edit_state, upload_result, convert_result, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.ID,
		sess.Status,
		source,
		edit,
		upload,
		nullableJSON(sess.Convert),
		sess.ErrorMessage,
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

func (s *PostgresSessionStore) Get(ctx context.Context, id string) (domain.Session, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, source, edit_state, upload_result, convert_result, error_message, created_at, updated_at
		 FROM sessions
		 WHERE id = $1`,
		id,
	)

	var (
		sess    domain.Session
		source  []byte
		edit    []byte
		upload  []byte
		convert []byte
	)
	if err := row.Scan(
		&sess.ID,
		&sess.Status,
		&source,
		&edit,
		&upload,
		&convert,
		&sess.ErrorMessage,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, fmt.Errorf("query session: %w", err)
	}

	if err := json.Unmarshal(edit, &sess.Edit); err != nil {
		return domain.Session{}, false, fmt.Errorf("unmarshal edit state: %w", err)
	}
	if len(source) > 0 {
		sess.Source = &domain.SourceImage{}
		if err := json.Unmarshal(source, sess.Source); err != nil {
			return domain.Session{}, false, fmt.Errorf("unmarshal source image: %w", err)
		}
	}
	if len(upload) > 0 {
		sess.Upload = &domain.UploadResult{}
		if err := json.Unmarshal(upload, sess.Upload); err != nil {
			return domain.Session{}, false, fmt.Errorf("unmarshal upload result: %w", err)
		}
	}
	if len(convert) > 0 {
		sess.Convert = json.RawMessage(convert)
	}

	return sess, true, nil
}

func (s *PostgresSessionStore) Update(ctx context.Context, sess domain.Session) error {
	source, edit, upload, err := marshalSessionFields(sess)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions
		 SET status = $1, source = $2, edit_state = $3, upload_result = $4, convert_result = $5, error_message = $6, updated_at = $7
		 WHERE id = $8`,
		sess.Status,
		source,
		edit,
		upload,
		nullableJSON(sess.Convert),
		sess.ErrorMessage,
		time.Now().UTC(),
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session result: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}

	return nil
}

func (s *PostgresSessionStore) UpdateStatus(ctx context.Context, id, status string) (domain.Session, error) {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Session{}, fmt.Errorf("update session status: %w", err)
	}

	sess, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if !ok {
		return domain.Session{}, ErrSessionNotFound
	}

	return sess, nil
}

func marshalSessionFields(sess domain.Session) (source, edit, upload []byte, err error) {
	edit, err = json.Marshal(sess.Edit)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal edit state: %w", err)
	}
	if sess.Source != nil {
		source, err = json.Marshal(sess.Source)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal source image: %w", err)
		}
	}
	if sess.Upload != nil {
		upload, err = json.Marshal(sess.Upload)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal upload result: %w", err)
		}
	}
	return source, edit, upload, nil
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
