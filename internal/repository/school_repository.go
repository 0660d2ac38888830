package repository

import (
	"context"
	"database/sql"

	"github.com/ubicatec/ubicatec-api/internal/model"
)

// SchoolRepo reads the EscuelasTEC reference table.
type SchoolRepo struct{ db *sql.DB }

func NewSchoolRepo(db *sql.DB) *SchoolRepo { return &SchoolRepo{db: db} }

// List returns every school ordered by name.
func (r *SchoolRepo) List(ctx context.Context) ([]model.School, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id_escuela, nombre_escuela FROM EscuelasTEC ORDER BY nombre_escuela ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.School{}
	for rows.Next() {
		var s model.School
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Exists reports whether a school with the id exists.
func (r *SchoolRepo) Exists(ctx context.Context, id uint64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM EscuelasTEC WHERE id_escuela = ?`, id).Scan(&n)
	return n > 0, err
}
