package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/noah-isme/olympiad-codes-api/internal/models"
	appErrors "github.com/noah-isme/olympiad-codes-api/pkg/errors"
)

const pgUniqueViolation = "23505"

type sessionReader interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

func loadSession(ctx context.Context, repo sessionReader, id string) (*models.Session, error) {
	session, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrSessionNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

func loadStudent(ctx context.Context, repo studentReader, id string) (*models.Student, error) {
	student, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrStudentNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}
