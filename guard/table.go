package guard

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// Well-known roles.
const (
	RoleAdmin    = "admin"
	RoleProvider = "provider"
)

// Requirement is the minimum role an area demands.
type Requirement uint8

const (
	// AnyRole admits every authenticated subject.
	AnyRole Requirement = iota
	// AdminOnly admits the admin role.
	AdminOnly
	// ProviderOnly admits every role except admin.
	ProviderOnly
	// Public renders for everyone, authenticated or not.
	Public
)

func (r Requirement) String() string {
	switch r {
	case AnyRole:
		return "any_role"
	case AdminOnly:
		return "admin_only"
	case ProviderOnly:
		return "provider_only"
	case Public:
		return "public"
	default:
		return "unknown"
	}
}

// Admits reports whether role satisfies r.
func (r Requirement) Admits(role string) bool {
	switch r {
	case AnyRole, Public:
		return true
	case AdminOnly:
		return role == RoleAdmin
	case ProviderOnly:
		return role != RoleAdmin
	default:
		return false
	}
}

// Area is a path prefix and its requirement.
type Area struct {
	Path        string
	Requirement Requirement
}

// Routes names the special screens and the two home areas.
type Routes struct {
	SignIn         string
	ChangePassword string
	AdminHome      string
	ProviderHome   string
}

// DefaultRoutes returns the dashboard's routes.
func DefaultRoutes() Routes {
	return Routes{
		SignIn:         "/signin",
		ChangePassword: "/change-password",
		AdminHome:      "/admin",
		ProviderHome:   "/dashboard",
	}
}

// Subject is the authentication state a decision is made for.
type Subject struct {
	Authenticated          bool
	Role                   string
	RequiresPasswordChange bool
}

// Action is what the caller should do.
type Action uint8

const (
	ActionRender Action = iota
	ActionRedirect
)

func (a Action) String() string {
	if a == ActionRedirect {
		return "redirect"
	}
	return "render"
}

// Reason names the row of the decision table that produced a [Decision].
type Reason uint8

const (
	ReasonAllowed Reason = iota
	ReasonUnauthenticated
	ReasonPasswordChange
	ReasonRole
	ReasonSignedIn
)

func (r Reason) String() string {
	switch r {
	case ReasonAllowed:
		return "allowed"
	case ReasonUnauthenticated:
		return "unauthenticated"
	case ReasonPasswordChange:
		return "password_change_required"
	case ReasonRole:
		return "role_mismatch"
	case ReasonSignedIn:
		return "already_signed_in"
	default:
		return "unknown"
	}
}

// Decision is the outcome of [Table.Decide]. Target is set only for redirects.
type Decision struct {
	Action Action
	Target string
	Reason Reason
}

func render() Decision { return Decision{Action: ActionRender, Reason: ReasonAllowed} }

func redirect(target string, reason Reason) Decision {
	return Decision{Action: ActionRedirect, Target: target, Reason: reason}
}

// Table maps paths to areas. It is immutable after construction and safe for
// concurrent use.
type Table struct {
	routes Routes
	areas  []Area
}

// NewTable builds and validates a table. Areas are matched by longest path prefix on
// segment boundaries; paths under no area are treated as protected with no role
// admitted, so they resolve to the subject's home.
func NewTable(routes Routes, areas ...Area) (*Table, error) {
	t := &Table{
		routes: Routes{
			SignIn:         cleanPath(routes.SignIn),
			ChangePassword: cleanPath(routes.ChangePassword),
			AdminHome:      cleanPath(routes.AdminHome),
			ProviderHome:   cleanPath(routes.ProviderHome),
		},
	}
	for _, a := range areas {
		t.areas = append(t.areas, Area{Path: cleanPath(a.Path), Requirement: a.Requirement})
	}
	sort.SliceStable(t.areas, func(i, j int) bool {
		return len(t.areas[i].Path) > len(t.areas[j].Path)
	})
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// DefaultTable returns the dashboard table: /admin for admins, /dashboard for every
// other role, /profile for any authenticated user and / as public.
func DefaultTable() *Table {
	t, err := NewTable(DefaultRoutes(),
		Area{Path: "/admin", Requirement: AdminOnly},
		Area{Path: "/dashboard", Requirement: ProviderOnly},
		Area{Path: "/profile", Requirement: AnyRole},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// Routes returns the configured routes.
func (t *Table) Routes() Routes { return t.routes }

// HomeFor returns the role-appropriate default area: admin goes to the admin home,
// every other role (including empty) to the provider home.
func (t *Table) HomeFor(role string) string {
	if role == RoleAdmin {
		return t.routes.AdminHome
	}
	return t.routes.ProviderHome
}

// Decide applies the decision table to the requested path.
func (t *Table) Decide(s Subject, requested string) Decision {
	p := cleanPath(requested)

	switch {
	case p == t.routes.SignIn:
		if !s.Authenticated {
			return render()
		}
		if s.RequiresPasswordChange {
			return redirect(t.routes.ChangePassword, ReasonPasswordChange)
		}
		return redirect(t.HomeFor(s.Role), ReasonSignedIn)
	case p == t.routes.ChangePassword:
		if !s.Authenticated {
			return redirect(t.routes.SignIn, ReasonUnauthenticated)
		}
		return render()
	}

	area, ok := t.match(p)
	if ok && area.Requirement == Public {
		return render()
	}
	if !s.Authenticated {
		return redirect(t.routes.SignIn, ReasonUnauthenticated)
	}
	if s.RequiresPasswordChange {
		return redirect(t.routes.ChangePassword, ReasonPasswordChange)
	}
	if !ok || !area.Requirement.Admits(s.Role) {
		return redirect(t.HomeFor(s.Role), ReasonRole)
	}
	return render()
}

func (t *Table) match(p string) (Area, bool) {
	for _, a := range t.areas {
		if a.Path == "/" || p == a.Path || strings.HasPrefix(p, a.Path+"/") {
			return a, true
		}
	}
	return Area{}, false
}

// probeRoles covers each role class: admin, provider, another named role and none.
var probeRoles = []string{RoleAdmin, RoleProvider, "clinician", ""}

// Validate checks the routes and proves that no subject is redirected to a target
// that does not render for it.
func (t *Table) Validate() error {
	r := t.routes
	named := map[string]string{
		"sign-in":         r.SignIn,
		"change-password": r.ChangePassword,
		"admin home":      r.AdminHome,
		"provider home":   r.ProviderHome,
	}
	for name, p := range named {
		if p == "" || p == "/" {
			return fmt.Errorf("guard: %s route must be a non-root path", name)
		}
	}
	if r.SignIn == r.ChangePassword {
		return errors.New("guard: sign-in and change-password routes must differ")
	}
	for _, home := range []string{r.AdminHome, r.ProviderHome} {
		if home == r.SignIn || home == r.ChangePassword {
			return fmt.Errorf("guard: home %q collides with a special screen", home)
		}
	}
	seen := make(map[string]struct{}, len(t.areas))
	for _, a := range t.areas {
		if _, dup := seen[a.Path]; dup {
			return fmt.Errorf("guard: duplicate area %q", a.Path)
		}
		seen[a.Path] = struct{}{}
		if a.Requirement > Public {
			return fmt.Errorf("guard: area %q has unknown requirement", a.Path)
		}
	}

	probes := []string{r.SignIn, r.ChangePassword, r.AdminHome, r.ProviderHome, "/__unmapped__"}
	for _, a := range t.areas {
		probes = append(probes, a.Path, path.Join(a.Path, "child"))
	}
	for _, s := range Subjects() {
		for _, p := range probes {
			d := t.Decide(s, p)
			if d.Action != ActionRedirect {
				continue
			}
			if d.Target == cleanPath(p) {
				return fmt.Errorf("guard: %q redirects to itself for %+v", p, s)
			}
			if next := t.Decide(s, d.Target); next.Action != ActionRender {
				return fmt.Errorf("guard: redirect target %q from %q does not render for %+v (next: %s %q)",
					d.Target, p, s, next.Action, next.Target)
			}
		}
	}
	return nil
}

// Subjects enumerates one subject per state and role class.
func Subjects() []Subject {
	out := []Subject{{Authenticated: false}}
	for _, role := range probeRoles {
		out = append(out,
			Subject{Authenticated: true, Role: role},
			Subject{Authenticated: true, Role: role, RequiresPasswordChange: true},
		)
	}
	return out
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
