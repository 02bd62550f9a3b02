package store

import (
	"context"

	"github.com/rmarchant/sheetscan/internal/domain"
)

type SessionStore interface {
	Create(ctx context.Context, sess domain.Session) error
	Get(ctx context.Context, id string) (domain.Session, bool, error)
	Update(ctx context.Context, sess domain.Session) error
	UpdateStatus(ctx context.Context, id, status string) (domain.Session, error)
}
