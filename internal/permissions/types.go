package permissions

import (
	"fmt"
	"strings"
)

// Resource is a protected domain noun.
type Resource string

const (
	ResourceUsuarios      Resource = "usuarios"
	ResourceProyectos     Resource = "proyectos"
	ResourceDocumentos    Resource = "documentos"
	ResourceReportes      Resource = "reportes"
	ResourceConfiguracion Resource = "configuracion"
	ResourceRoles         Resource = "roles"
	ResourceEvidencias    Resource = "evidencias"
	ResourceArchivo       Resource = "archivo"
	ResourcePersonal      Resource = "personal"
)

// Resources lists the closed resource vocabulary.
var Resources = []Resource{
	ResourceUsuarios,
	ResourceProyectos,
	ResourceDocumentos,
	ResourceReportes,
	ResourceConfiguracion,
	ResourceRoles,
	ResourceEvidencias,
	ResourceArchivo,
	ResourcePersonal,
}

// Action is an operation keyword that can be granted on a resource.
type Action string

const (
	ActionLeer       Action = "leer"
	ActionCrear      Action = "crear"
	ActionActualizar Action = "actualizar"
	ActionEliminar   Action = "eliminar"
	ActionAprobar    Action = "aprobar"
	ActionExportar   Action = "exportar"
	ActionConfigurar Action = "configurar"
	ActionAcceder    Action = "acceder"
)

// Actions lists the closed action vocabulary in bit order.
var Actions = []Action{
	ActionLeer,
	ActionCrear,
	ActionActualizar,
	ActionEliminar,
	ActionAprobar,
	ActionExportar,
	ActionConfigurar,
	ActionAcceder,
}

var (
	resourceIndex = make(map[Resource]bool, len(Resources))
	actionBits    = make(map[Action]ActionSet, len(Actions))
)

func init() {
	for _, r := range Resources {
		resourceIndex[r] = true
	}
	for i, a := range Actions {
		actionBits[a] = 1 << i
	}
}

// ParseResource validates a resource name coming from the wire.
func ParseResource(raw string) (Resource, error) {
	r := Resource(strings.ToLower(strings.TrimSpace(raw)))
	if !resourceIndex[r] {
		return "", fmt.Errorf("%w: %q", ErrUnknownResource, raw)
	}
	return r, nil
}

// ParseAction validates an action keyword coming from the wire.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := actionBits[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
	}
	return a, nil
}

// ActionSet is a bitset over the action vocabulary.
type ActionSet uint16

// NewActionSet builds a set from known actions. Unknown values are ignored.
func NewActionSet(actions ...Action) ActionSet {
	var s ActionSet
	for _, a := range actions {
		s |= actionBits[a]
	}
	return s
}

func (s ActionSet) Has(a Action) bool {
	bit, ok := actionBits[a]
	return ok && s&bit != 0
}

// HasAny reports whether at least one of the actions is in the set.
func (s ActionSet) HasAny(actions ...Action) bool {
	return s&NewActionSet(actions...) != 0
}

func (s ActionSet) Empty() bool {
	return s == 0
}

func (s ActionSet) Union(other ActionSet) ActionSet {
	return s | other
}

// List returns the actions in vocabulary order.
func (s ActionSet) List() []Action {
	out := make([]Action, 0, len(Actions))
	for _, a := range Actions {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

// Grant is the set of actions the current subject holds on one resource.
type Grant struct {
	Resource Resource
	Actions  ActionSet
}
