package credential

import "strings"

// Role is the canonical form of the free-text role claim carried in a token.
type Role string

const (
	RoleAdministrator      Role = "administrador"
	RoleSuperAdministrator Role = "super-administrador"
	RoleInterventor        Role = "interventor"
	RoleUser               Role = "usuario"
	RoleUnknown            Role = "desconocido"
)

var roleAliases = map[string]Role{
	"administrador":      RoleAdministrator,
	"admin":              RoleAdministrator,
	"superadministrador": RoleSuperAdministrator,
	"superadmin":         RoleSuperAdministrator,
	"interventor":        RoleInterventor,
	"usuario":            RoleUser,
	"user":               RoleUser,
}

// NormalizeRole folds the role claim spellings seen in issued tokens
// ("Super Administrador", "super_administrador", "ADMINISTRADOR", ...) onto a
// canonical Role. Anything unrecognised is RoleUnknown.
func NormalizeRole(raw string) Role {
	folded := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '\t':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(raw)))

	if role, ok := roleAliases[folded]; ok {
		return role
	}
	return RoleUnknown
}

// Superuser reports whether the role overrides fine-grained grants for the
// roles management menu entry.
func (r Role) Superuser() bool {
	return r == RoleAdministrator || r == RoleSuperAdministrator
}
