package model

import "time"

// Roles stored in Usuarios.tipo_rol.
const (
    RoleAdmin   = "administrativo"
    RoleStudent = "estudiante"
    RoleVisitor = "visitante"
)

// ValidRole reports whether r is a known role.
func ValidRole(r string) bool {
    return r == RoleAdmin || r == RoleStudent || r == RoleVisitor
}

// User represents an account as stored in the `Usuarios` table.  A
// student always has a school; administrators and visitors may not.
//
// Fields:
//  ID           – primary key identifier.
//  Name, Surname – given name and surname.
//  Email        – unique email address (stored lower case).
//  Username     – unique login handle.
//  PasswordHash – bcrypt hash of the credential.
//  Role         – administrativo, estudiante or visitante.
//  SchoolID     – affiliated school, nil when none.
//  SchoolName   – name of the affiliated school when joined.
type User struct {
    ID           uint64
    Name         string
    Surname      string
    Email        string
    Username     string
    PasswordHash string
    Role         string
    SchoolID     *uint64
    SchoolName   string
    CreatedAt    string
}

// FullName joins name and surname for display.
func (u User) FullName() string {
    if u.Surname == "" {
        return u.Name
    }
    return u.Name + " " + u.Surname
}

// RefreshToken models an entry in the `TokensRefresco` table.  Only the
// SHA‑256 hash of the token value is stored.
type RefreshToken struct {
    ID        uint64
    UserID    uint64
    TokenHash string
    ExpiresAt time.Time
    RevokedAt *time.Time
}
