package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/sggenna/fluency/core/user"
)

const uniqueViolation = "23505"

type dbUser struct {
	ID           string       `db:"id"`
	FirstName    string       `db:"first_name"`
	LastName     string       `db:"last_name"`
	Email        string       `db:"email"`
	Role         string       `db:"role"`
	IsActive     bool         `db:"is_active"`
	Phone        string       `db:"phone"`
	Bio          string       `db:"bio"`
	PasswordHash []byte       `db:"password_hash"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
	LastLogin    sql.NullTime `db:"last_login"`
}

func newDBUser(usr user.User) dbUser {
	du := dbUser{
		ID:           usr.ID,
		FirstName:    usr.FirstName,
		LastName:     usr.LastName,
		Email:        usr.Email,
		Role:         usr.Role,
		IsActive:     usr.Active(),
		Phone:        usr.Profile.Phone,
		Bio:          usr.Profile.Bio,
		PasswordHash: usr.PasswordHash,
		CreatedAt:    usr.CreatedAt,
		UpdatedAt:    usr.UpdatedAt,
	}
	if !usr.LastLogin.IsZero() {
		du.LastLogin = sql.NullTime{Time: usr.LastLogin, Valid: true}
	}
	return du
}

func (du dbUser) toUser() user.User {
	usr := user.User{
		ID:           du.ID,
		FirstName:    du.FirstName,
		LastName:     du.LastName,
		Email:        du.Email,
		Role:         du.Role,
		PasswordHash: du.PasswordHash,
		CreatedAt:    du.CreatedAt,
		UpdatedAt:    du.UpdatedAt,
	}
	usr.SetActive(du.IsActive)
	usr.Profile.Phone = du.Phone
	usr.Profile.Bio = du.Bio
	if du.LastLogin.Valid {
		usr.LastLogin = du.LastLogin.Time
	}
	return usr
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...user.User) error {
	exclIDs := make([]string, 0, len(excludedUsers))
	for _, usr := range excludedUsers {
		exclIDs = append(exclIDs, usr.ID)
	}

	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM user_account WHERE email = $1 AND id <> ALL($2))`
	if err := repo.db.GetContext(ctx, &exists, q, email, pq.Array(exclIDs)); err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if exists {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `
INSERT INTO user_account (id, first_name, last_name, email, role, is_active, phone, bio, password_hash, created_at, updated_at, last_login)
VALUES (:id, :first_name, :last_name, :email, :role, :is_active, :phone, :bio, :password_hash, :created_at, :updated_at, :last_login)`
	if _, err := repo.db.NamedExecContext(ctx, q, newDBUser(usr)); err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) QueryAllUsers(ctx context.Context) ([]user.User, error) {
	var dbUsers []dbUser
	q := `SELECT * FROM user_account ORDER BY created_at`
	if err := repo.db.SelectContext(ctx, &dbUsers, q); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return toUsers(dbUsers), nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	return repo.get(ctx, `SELECT * FROM user_account WHERE id = $1`, id)
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.get(ctx, `SELECT * FROM user_account WHERE email = $1`, email)
}

func (repo *userRepository) get(ctx context.Context, q string, arg interface{}) (user.User, error) {
	var du dbUser
	if err := repo.db.GetContext(ctx, &du, q, arg); err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user")
	}
	return du.toUser(), nil
}

func (repo *userRepository) FilterUsers(ctx context.Context, filter user.QueryFilter) ([]user.User, error) {
	q := `SELECT * FROM user_account WHERE 1=1`
	args := make(map[string]interface{})

	if filter.Search != "" {
		q += ` AND (first_name ILIKE :search OR last_name ILIKE :search OR email ILIKE :search)`
		args["search"] = "%" + filter.Search + "%"
	}
	if filter.Role != "" {
		q += ` AND role = :role`
		args["role"] = filter.Role
	}
	if filter.IsActive != nil {
		q += ` AND is_active = :is_active`
		args["is_active"] = *filter.IsActive
	}
	q += ` ORDER BY created_at`

	rows, err := repo.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, errors.Wrap(err, "filtering users")
	}
	defer func() { _ = rows.Close() }()

	var users []user.User
	for rows.Next() {
		var du dbUser
		if err = rows.StructScan(&du); err != nil {
			return nil, errors.Wrap(err, "scanning user")
		}
		users = append(users, du.toUser())
	}
	return users, errors.Wrap(rows.Err(), "filtering users")
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `
UPDATE user_account
SET first_name = :first_name, last_name = :last_name, email = :email, role = :role, is_active = :is_active,
    phone = :phone, bio = :bio, password_hash = :password_hash, updated_at = :updated_at, last_login = :last_login
WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, newDBUser(usr))
	if err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `
INSERT INTO user_account (id, first_name, last_name, email, role, is_active, phone, bio, password_hash, created_at, updated_at, last_login)
VALUES (:id, :first_name, :last_name, :email, :role, :is_active, :phone, :bio, :password_hash, :created_at, :updated_at, :last_login)
ON CONFLICT (email) DO UPDATE
SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name, role = EXCLUDED.role, is_active = EXCLUDED.is_active,
    phone = EXCLUDED.phone, bio = EXCLUDED.bio, password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at`
	if _, err := repo.db.NamedExecContext(ctx, q, newDBUser(usr)); err != nil {
		return user.User{}, errors.Wrap(err, "upserting user")
	}
	return repo.GetUserByEmail(ctx, usr.Email)
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	q := `DELETE FROM user_account WHERE id = ANY($1)`
	_, err := repo.db.ExecContext(ctx, q, pq.Array(ids))
	return errors.Wrap(err, "deleting users")
}

func toUsers(dbUsers []dbUser) []user.User {
	users := make([]user.User, 0, len(dbUsers))
	for _, du := range dbUsers {
		users = append(users, du.toUser())
	}
	return users
}
