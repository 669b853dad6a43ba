package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/waktihq/notify/internal/model"
	"github.com/waktihq/notify/internal/repository"
)

type profileRepository struct {
	BaseRepository
}

func NewProfileRepository(base BaseRepository) repository.ProfileRepository {
	return &profileRepository{base}
}

func (r *profileRepository) Get(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	query := `
		SELECT id, display_name, email, created_at
		FROM profiles
		WHERE id = $1
	`
	var p model.Profile
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

type documentRepository struct {
	BaseRepository
}

func NewDocumentRepository(base BaseRepository) repository.DocumentRepository {
	return &documentRepository{base}
}

func (r *documentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	query := `
		SELECT id, user_id, name, expiry_date, created_at
		FROM documents
		WHERE id = $1
	`
	var d model.Document
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &d, nil
}
