package repository

import (
	"context"

	"github.com/stemsi/exstem-cbt/internal/model"
)

const userColumns = `id, username, full_name, role, department_id, password_hash, is_active, created_at`

func scanUser(row scanner) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.Role, &u.DepartmentID,
		&u.PasswordHash, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

// UserRepository handles user data access.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id int) (*model.User, error) {
	return scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByUsername retrieves a user by username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (username, full_name, role, department_id, password_hash, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		u.Username, u.FullName, u.Role, u.DepartmentID, u.PasswordHash, u.IsActive,
	).Scan(&u.ID, &u.CreatedAt)
	return translate(err)
}
