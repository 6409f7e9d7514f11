package repo

import (
	"context"
	"database/sql"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// ==========================
// UserRepo
// ==========================
type UserRepo struct {
	DB *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{DB: db}
}

// ==========================
// Create User (password stored as bcrypt hash; empty password allowed for viewers)
// ==========================
func (r *UserRepo) Create(ctx context.Context, username, password, role string) (*models.User, error) {
	var hash interface{}
	if password != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hash = string(b)
	}

	user := &models.User{}
	var stored sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO users (username, password_hash, role)
		 VALUES ($1, $2, $3)
		 RETURNING id, username, password_hash, role`,
		username, hash, role,
	).Scan(&user.ID, &user.Username, &stored, &user.Role)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, chaoserr.E(chaoserr.KindConflict, "repo.UserRepo.Create", "username taken", err)
		}
		return nil, err
	}
	user.PasswordHash = stored.String
	return user, nil
}

// ==========================
// Get By Username (nil when missing)
// ==========================
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	var stored sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role FROM users WHERE username = $1`,
		username,
	).Scan(&user.ID, &user.Username, &stored, &user.Role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user.PasswordHash = stored.String
	return user, nil
}
