package permissions

import (
	"encoding/json"
	"log/slog"
)

// GrantSet is an immutable, ordered collection of grants with at most one
// entry per resource. The zero value is an empty set.
type GrantSet struct {
	grants []Grant
	index  map[Resource]int
}

// NewGrantSet merges duplicate resources by union, keeping the position of
// the first occurrence.
func NewGrantSet(grants ...Grant) GrantSet {
	gs := GrantSet{
		grants: make([]Grant, 0, len(grants)),
		index:  make(map[Resource]int, len(grants)),
	}
	for _, g := range grants {
		if i, ok := gs.index[g.Resource]; ok {
			gs.grants[i].Actions = gs.grants[i].Actions.Union(g.Actions)
			continue
		}
		gs.index[g.Resource] = len(gs.grants)
		gs.grants = append(gs.grants, g)
	}
	return gs
}

// Lookup returns the grant for a resource if the set has an entry for it.
func (gs GrantSet) Lookup(r Resource) (Grant, bool) {
	i, ok := gs.index[r]
	if !ok {
		return Grant{}, false
	}
	return gs.grants[i], true
}

// Has reports whether the resource's grant includes the action.
func (gs GrantSet) Has(r Resource, a Action) bool {
	g, ok := gs.Lookup(r)
	return ok && g.Actions.Has(a)
}

func (gs GrantSet) Len() int {
	return len(gs.grants)
}

// Grants returns a copy of the grants in order.
func (gs GrantSet) Grants() []Grant {
	return append([]Grant(nil), gs.grants...)
}

// RawGrant is the wire shape of a grant as served by the backend.
type RawGrant struct {
	Recurso  string   `json:"recurso"`
	Acciones []string `json:"acciones"`
}

// Raw converts the set back to its wire shape.
func (gs GrantSet) Raw() []RawGrant {
	out := make([]RawGrant, 0, len(gs.grants))
	for _, g := range gs.grants {
		actions := make([]string, 0)
		for _, a := range g.Actions.List() {
			actions = append(actions, string(a))
		}
		out = append(out, RawGrant{Recurso: string(g.Resource), Acciones: actions})
	}
	return out
}

func (gs GrantSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(gs.Raw())
}

func (gs *GrantSet) UnmarshalJSON(data []byte) error {
	var raw []RawGrant
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*gs = Normalize(raw, nil)
	return nil
}

// Normalize validates wire grants against the closed vocabulary. Unknown
// resources are dropped; unknown actions are dropped from their grant. A
// grant left with no actions is kept as an explicit empty entry.
func Normalize(raw []RawGrant, logger *slog.Logger) GrantSet {
	grants := make([]Grant, 0, len(raw))
	for _, rg := range raw {
		resource, err := ParseResource(rg.Recurso)
		if err != nil {
			if logger != nil {
				logger.Warn("Dropping grant for unknown resource", slog.String("resource", rg.Recurso))
			}
			continue
		}

		var actions ActionSet
		for _, ra := range rg.Acciones {
			action, err := ParseAction(ra)
			if err != nil {
				if logger != nil {
					logger.Warn("Dropping unknown action",
						slog.String("resource", rg.Recurso),
						slog.String("action", ra),
					)
				}
				continue
			}
			actions = actions.Union(NewActionSet(action))
		}

		grants = append(grants, Grant{Resource: resource, Actions: actions})
	}
	return NewGrantSet(grants...)
}
