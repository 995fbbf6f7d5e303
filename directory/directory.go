/*
Package directory resolves actor ids into leave.Actor values.

PURPOSE:
  The core never looks up who a caller is. This package does: it reads
  the employee record (department, roles) from an EmployeeSource and turns
  the roles into a leave.CapabilitySet through a casbin role catalog.

ROLE CATALOG:
  Roles hold grant codes (p rules) and may inherit other roles (g rules):

    p, employee,   requests.create_own
    p, supervisor, requests.approve_supervisor
    g, supervisor, employee

  A role's capabilities are every grant code casbin allows for it.

SEE ALSO:
  - leave/permission.go: grant codes and the permission gate
  - store/sqlite: employees table (EmployeeSource)
*/
package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

type Employee struct {
	ID         leave.UserID
	Name       string
	Email      string
	Department string
	Roles      []string
	HireDate   leave.Date
	CreatedAt  time.Time
}

// EmployeeSource returns leave.ErrNotFound for unknown ids.
type EmployeeSource interface {
	GetEmployee(ctx context.Context, id leave.UserID) (*Employee, error)
}

// StaticSource is an EmployeeSource backed by a map.
type StaticSource map[leave.UserID]Employee

func (s StaticSource) GetEmployee(_ context.Context, id leave.UserID) (*Employee, error) {
	emp, ok := s[id]
	if !ok {
		return nil, leave.ErrNotFound
	}
	return &emp, nil
}

// =============================================================================
// ROLE CATALOG - casbin model: role -> grant code, with role inheritance
// =============================================================================

const catalogModel = `[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj
`

const (
	RoleEmployee   = "employee"
	RoleSupervisor = "supervisor"
	RoleHR         = "hr"
	RoleAdmin      = "admin"
)

type Catalog struct {
	mu       sync.Mutex
	enforcer *casbin.Enforcer
}

// NewCatalog returns an empty catalog.
func NewCatalog() (*Catalog, error) {
	m, err := model.NewModelFromString(catalogModel)
	if err != nil {
		return nil, fmt.Errorf("role catalog model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("role catalog enforcer: %w", err)
	}
	return &Catalog{enforcer: e}, nil
}

// DefaultCatalog returns the standard employee / supervisor / hr / admin
// roles.
func DefaultCatalog() (*Catalog, error) {
	c, err := NewCatalog()
	if err != nil {
		return nil, err
	}

	grants := map[string][]string{
		RoleEmployee: {
			"balances.view_own",
			"requests.create_own",
			"requests.view_own",
		},
		RoleSupervisor: {
			"balances.view_department",
			"requests.view_department",
			"requests.approve_supervisor",
		},
		RoleHR: {
			"balances.view_all",
			"balances.assign",
			"requests.view_all",
			"requests.approve_final",
			"reports.export",
		},
		RoleAdmin: {
			"requests.schedule",
		},
	}
	for role, codes := range grants {
		for _, code := range codes {
			if err := c.Grant(role, code); err != nil {
				return nil, err
			}
		}
	}

	inherits := [][2]string{
		{RoleSupervisor, RoleEmployee},
		{RoleHR, RoleEmployee},
		{RoleAdmin, RoleHR},
	}
	for _, in := range inherits {
		if err := c.Inherit(in[0], in[1]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Grant gives role the grant code. Unknown codes are rejected.
func (c *Catalog) Grant(role, code string) error {
	if _, err := leave.ParseGrant(code); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.enforcer.AddPolicy(role, code); err != nil {
		return fmt.Errorf("grant %s to %s: %w", code, role, err)
	}
	return nil
}

// Inherit makes role hold everything parent holds.
func (c *Catalog) Inherit(role, parent string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.enforcer.AddGroupingPolicy(role, parent); err != nil {
		return fmt.Errorf("inherit %s from %s: %w", parent, role, err)
	}
	return nil
}

// Capabilities resolves roles into a capability set. Unknown roles
// contribute nothing.
func (c *Catalog) Capabilities(roles []string) (leave.CapabilitySet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := make(leave.CapabilitySet)
	for _, role := range roles {
		for _, code := range leave.GrantCodes() {
			ok, err := c.enforcer.Enforce(role, code)
			if err != nil {
				return nil, fmt.Errorf("enforce %s for %s: %w", code, role, err)
			}
			if !ok {
				continue
			}
			g, err := leave.ParseGrant(code)
			if err != nil {
				return nil, err
			}
			set.Add(g)
		}
	}
	return set, nil
}

// =============================================================================
// DIRECTORY - leave.ActorDirectory
// =============================================================================

type Directory struct {
	source  EmployeeSource
	catalog *Catalog
	logger  *zap.Logger
}

var _ leave.ActorDirectory = (*Directory)(nil)

func New(source EmployeeSource, catalog *Catalog, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{source: source, catalog: catalog, logger: logger.Named("directory")}
}

// Resolve looks the employee up and resolves its roles. The system actor
// is built in and never read from the source.
func (d *Directory) Resolve(ctx context.Context, id leave.UserID) (leave.Actor, error) {
	if id == leave.SystemActorID {
		return leave.SystemActor(), nil
	}

	emp, err := d.source.GetEmployee(ctx, id)
	if err != nil {
		if !leave.IsNotFound(err) {
			d.logger.Error("resolve actor failed", zap.String("actor_id", string(id)), zap.Error(err))
		}
		return leave.Actor{}, err
	}

	caps, err := d.catalog.Capabilities(emp.Roles)
	if err != nil {
		return leave.Actor{}, err
	}

	d.logger.Debug("actor resolved",
		zap.String("actor_id", string(id)),
		zap.String("department", emp.Department),
		zap.Strings("roles", emp.Roles),
	)
	return leave.Actor{
		ID:           emp.ID,
		Department:   emp.Department,
		Roles:        emp.Roles,
		Capabilities: caps,
	}, nil
}
