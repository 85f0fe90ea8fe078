package storage

import (
	"context"

	"github.com/hourbook/hourbook/libs/db"
	"github.com/hourbook/hourbook/services/booking-service/internal/model"
)

type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (model.User, bool, error) {
	return r.find(ctx, `
		SELECT id, name, email, provider
		FROM users
		WHERE id = $1
	`, id)
}

func (r *UserRepository) FindProvider(ctx context.Context, id string) (model.User, bool, error) {
	return r.find(ctx, `
		SELECT id, name, email, provider
		FROM users
		WHERE id = $1 AND provider
	`, id)
}

func (r *UserRepository) find(ctx context.Context, query, id string) (model.User, bool, error) {
	if id == "" {
		return model.User{}, false, nil
	}
	var u model.User
	err := r.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.Name, &u.Email, &u.Provider)
	if err != nil {
		if IsNotFound(err) {
			return model.User{}, false, nil
		}
		return model.User{}, false, err
	}
	return u, true, nil
}
