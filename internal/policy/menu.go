package policy

import (
	"cmp"
	"slices"

	"github.com/opencrafts-io/interventoria/internal/credential"
	"github.com/opencrafts-io/interventoria/internal/permissions"
)

// MenuEntry is a navigation link shown in the portal sidebar.
type MenuEntry struct {
	Path  string `json:"path"`
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`
	Order int    `json:"order"`
}

var (
	// HomeEntry is always the first entry of every menu.
	HomeEntry = MenuEntry{Path: "/dashboard", Label: "Inicio", Icon: "home", Order: 0}
	// RolesEntry is shown to anyone able to manage users or configuration.
	RolesEntry = MenuEntry{Path: "/roles", Label: "Roles", Icon: "shield", Order: 6}
)

// menuTable lists the entries earned by any non-empty grant. Roles is not
// here, it follows the manage rule in DeriveMenu.
var menuTable = map[permissions.Resource]MenuEntry{
	permissions.ResourceUsuarios:      {Path: "/usuarios", Label: "Usuarios", Icon: "users", Order: 1},
	permissions.ResourceProyectos:     {Path: "/proyectos", Label: "Proyectos", Icon: "folder", Order: 2},
	permissions.ResourcePersonal:      {Path: "/personal", Label: "Personal", Icon: "id-card", Order: 3},
	permissions.ResourceArchivo:       {Path: "/archivo", Label: "Archivo", Icon: "archive", Order: 4},
	permissions.ResourceEvidencias:    {Path: "/evidencias", Label: "Evidencias", Icon: "camera", Order: 5},
	permissions.ResourceDocumentos:    {Path: "/documentos", Label: "Documentos", Icon: "file-text", Order: 7},
	permissions.ResourceReportes:      {Path: "/reportes", Label: "Reportes", Icon: "bar-chart", Order: 8},
	permissions.ResourceConfiguracion: {Path: "/configuracion", Label: "Configuración", Icon: "settings", Order: 9},
}

// MenuEntryFor returns the static menu entry of a resource.
func MenuEntryFor(r permissions.Resource) (MenuEntry, bool) {
	if r == permissions.ResourceRoles {
		return RolesEntry, true
	}
	m, ok := menuTable[r]
	return m, ok
}

// CanManageUsers is true when the usuarios grant allows any write action.
func CanManageUsers(grants permissions.GrantSet) bool {
	g, ok := grants.Lookup(permissions.ResourceUsuarios)
	return ok && g.Actions.HasAny(permissions.ActionCrear, permissions.ActionActualizar, permissions.ActionEliminar)
}

// CanManageConfig is true when the configuracion grant includes configurar.
func CanManageConfig(grants permissions.GrantSet) bool {
	return grants.Has(permissions.ResourceConfiguracion, permissions.ActionConfigurar)
}

// DeriveMenu builds the ordered, path-unique menu for a grant set and role.
// The result only depends on its inputs.
func DeriveMenu(grants permissions.GrantSet, role credential.Role) []MenuEntry {
	entries := []MenuEntry{HomeEntry}
	seen := map[string]bool{HomeEntry.Path: true}

	add := func(m MenuEntry) {
		if seen[m.Path] {
			return
		}
		seen[m.Path] = true
		entries = append(entries, m)
	}

	for _, g := range grants.Grants() {
		if g.Actions.Empty() {
			continue
		}
		if m, ok := menuTable[g.Resource]; ok {
			add(m)
		}
	}

	if CanManageUsers(grants) || CanManageConfig(grants) || role.Superuser() {
		add(RolesEntry)
	}

	slices.SortStableFunc(entries, func(a, b MenuEntry) int {
		return cmp.Compare(a.Order, b.Order)
	})
	return entries
}
