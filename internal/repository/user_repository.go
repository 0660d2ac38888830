package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/ubicatec/ubicatec-api/internal/database"
	"github.com/ubicatec/ubicatec-api/internal/model"
	"github.com/ubicatec/ubicatec-api/internal/utils"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// NewUser is the registration input.  Password is plain text; Create
// hashes it.
type NewUser struct {
	Name     string
	Surname  string
	Email    string
	Username string
	Password string
	Role     string
	SchoolID *uint64
}

// Create inserts user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, in NewUser, cost int) (uint64, error) {
	email := normalizeEmail(in.Email)
	hash, err := utils.HashPassword(in.Password, cost)
	if err != nil {
		return 0, err
	}
	var school any
	if in.SchoolID != nil {
		school = *in.SchoolID
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO Usuarios (nombre, apellido, correo, usuario, contrasena_hash, tipo_rol, id_escuela)
		 VALUES (?,?,?,?,?,?,?)`,
		strings.TrimSpace(in.Name), strings.TrimSpace(in.Surname), email,
		strings.TrimSpace(in.Username), hash, in.Role, school)
	if err != nil {
		if isDuplicateKey(err) {
			return 0, ErrUserExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

const userColumns = `u.id_usuario, u.nombre, u.apellido, u.correo, u.usuario, u.contrasena_hash,
	u.tipo_rol, u.id_escuela, COALESCE(s.nombre_escuela, ''), u.creado_en`

func scanUser(s rowScanner) (model.User, error) {
	var (
		u      model.User
		school sql.NullInt64
	)
	err := s.Scan(&u.ID, &u.Name, &u.Surname, &u.Email, &u.Username, &u.PasswordHash,
		&u.Role, &school, &u.SchoolName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	if school.Valid {
		id := uint64(school.Int64)
		u.SchoolID = &id
	}
	return u, nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM Usuarios u
		 LEFT JOIN EscuelasTEC s ON s.id_escuela = u.id_escuela
		 WHERE u.correo = ? LIMIT 1`,
		normalizeEmail(email)))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.GetByIDTx(ctx, r.DB, id)
}

// GetByIDTx fetches a user through q so the read joins the caller's
// transaction.
func (r *UserRepo) GetByIDTx(ctx context.Context, q database.Querier, id uint64) (model.User, error) {
	return scanUser(q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM Usuarios u
		 LEFT JOIN EscuelasTEC s ON s.id_escuela = u.id_escuela
		 WHERE u.id_usuario = ? LIMIT 1`,
		id))
}

// ProfileUpdate carries the editable profile fields.  An empty NewPassword
// keeps the current credential.
type ProfileUpdate struct {
	Name        string
	Surname     string
	Email       string
	Username    string
	NewPassword string
}

// UpdateProfile edits a user's profile.  A clash on email or username is
// ErrUserExists.
func (r *UserRepo) UpdateProfile(ctx context.Context, id uint64, in ProfileUpdate, cost int) error {
	query := `UPDATE Usuarios SET nombre = ?, apellido = ?, correo = ?, usuario = ?`
	args := []any{strings.TrimSpace(in.Name), strings.TrimSpace(in.Surname),
		normalizeEmail(in.Email), strings.TrimSpace(in.Username)}
	if in.NewPassword != "" {
		hash, err := utils.HashPassword(in.NewPassword, cost)
		if err != nil {
			return err
		}
		query += `, contrasena_hash = ?`
		args = append(args, hash)
	}
	query += ` WHERE id_usuario = ?`
	args = append(args, id)

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrUserExists
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
