/*
permission.go - Capability checks

PURPOSE:
  A single entry point for "may this actor do X to that record". The set of
  capabilities is closed; the only strings are the grant codes roles are
  configured with, parsed once into a CapabilitySet per actor.

SCOPES:
  Own:        only the actor's own records
  Department: records of users in the actor's department
  All:        every record

  View capabilities are implicitly granted on the actor's own records. A
  department-scoped holder is limited to its department unless it also
  holds the unscoped grant (the set keeps the widest scope held).

GRANT CODES:
  balances.view_own, balances.view_department, balances.view_all,
  balances.assign, requests.create_own, requests.view_own,
  requests.view_department, requests.view_all,
  requests.approve_supervisor, requests.approve_final,
  requests.schedule, reports.export
*/
package leave

import (
	"fmt"
	"sort"
)

// =============================================================================
// CAPABILITIES AND SCOPES
// =============================================================================

type Capability int

const (
	CapViewBalances Capability = iota + 1
	CapAssignBalances
	CapCreateRequests
	CapViewRequests
	CapApproveSupervisor
	CapApproveFinal
	CapScheduleRequests
	CapExportReports
)

var capabilityNames = map[Capability]string{
	CapViewBalances:      "balances.view",
	CapAssignBalances:    "balances.assign",
	CapCreateRequests:    "requests.create",
	CapViewRequests:      "requests.view",
	CapApproveSupervisor: "requests.approve_supervisor",
	CapApproveFinal:      "requests.approve_final",
	CapScheduleRequests:  "requests.schedule",
	CapExportReports:     "reports.export",
}

func (c Capability) String() string {
	if n, ok := capabilityNames[c]; ok {
		return n
	}
	return fmt.Sprintf("capability(%d)", int(c))
}

// implicitOwn is true for capabilities every actor holds on its own records.
func (c Capability) implicitOwn() bool {
	return c == CapViewBalances || c == CapViewRequests
}

type Scope int

const (
	ScopeOwn Scope = iota + 1
	ScopeDepartment
	ScopeAll
)

func (s Scope) String() string {
	switch s {
	case ScopeOwn:
		return "own"
	case ScopeDepartment:
		return "department"
	case ScopeAll:
		return "all"
	}
	return "none"
}

// Grant is a capability held at a scope.
type Grant struct {
	Capability Capability
	Scope      Scope
}

var grantCodes = map[string]Grant{
	"balances.view_own":           {CapViewBalances, ScopeOwn},
	"balances.view_department":    {CapViewBalances, ScopeDepartment},
	"balances.view_all":           {CapViewBalances, ScopeAll},
	"balances.assign":             {CapAssignBalances, ScopeAll},
	"requests.create_own":         {CapCreateRequests, ScopeOwn},
	"requests.view_own":           {CapViewRequests, ScopeOwn},
	"requests.view_department":    {CapViewRequests, ScopeDepartment},
	"requests.view_all":           {CapViewRequests, ScopeAll},
	"requests.approve_supervisor": {CapApproveSupervisor, ScopeDepartment},
	"requests.approve_final":      {CapApproveFinal, ScopeAll},
	"requests.schedule":           {CapScheduleRequests, ScopeAll},
	"reports.export":              {CapExportReports, ScopeAll},
}

// GrantCodes returns every known grant code, sorted.
func GrantCodes() []string {
	codes := make([]string, 0, len(grantCodes))
	for c := range grantCodes {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// ParseGrant resolves a grant code.
func ParseGrant(code string) (Grant, error) {
	g, ok := grantCodes[code]
	if !ok {
		return Grant{}, fmt.Errorf("unknown capability code %q", code)
	}
	return g, nil
}

// =============================================================================
// CAPABILITY SET - Resolved once per actor
// =============================================================================

// CapabilitySet maps each held capability to the widest scope held.
type CapabilitySet map[Capability]Scope

// ParseCapabilities builds a set from grant codes. Unknown codes fail.
func ParseCapabilities(codes ...string) (CapabilitySet, error) {
	set := make(CapabilitySet, len(codes))
	for _, code := range codes {
		g, err := ParseGrant(code)
		if err != nil {
			return nil, err
		}
		set.Add(g)
	}
	return set, nil
}

// MustCapabilities is ParseCapabilities for static code lists.
func MustCapabilities(codes ...string) CapabilitySet {
	set, err := ParseCapabilities(codes...)
	if err != nil {
		panic(err)
	}
	return set
}

// Add records g, keeping the wider scope if the capability is already held.
func (s CapabilitySet) Add(g Grant) {
	if cur, ok := s[g.Capability]; !ok || g.Scope > cur {
		s[g.Capability] = g.Scope
	}
}

func (s CapabilitySet) Scope(c Capability) (Scope, bool) {
	scope, ok := s[c]
	return scope, ok
}

// =============================================================================
// PERMISSION GATE
// =============================================================================

// Target is the record an action is applied to.
type Target struct {
	UserID     UserID
	Department string
}

// PermissionGate is a pure function of (actor, capability, target).
type PermissionGate struct{}

// HasCapability reports whether actor may exercise c on target.
func (PermissionGate) HasCapability(actor Actor, c Capability, target Target) bool {
	scope, held := actor.Capabilities.Scope(c)

	if target.UserID != "" && target.UserID == actor.ID && (held || c.implicitOwn()) {
		return true
	}
	if !held {
		return false
	}

	switch scope {
	case ScopeAll:
		return true
	case ScopeDepartment:
		return actor.Department != "" && target.Department == actor.Department
	default:
		return false
	}
}

// ScopeOf returns the widest scope at which actor can exercise c. View
// capabilities always resolve to at least ScopeOwn.
func (PermissionGate) ScopeOf(actor Actor, c Capability) (Scope, bool) {
	if scope, ok := actor.Capabilities.Scope(c); ok {
		return scope, true
	}
	if c.implicitOwn() {
		return ScopeOwn, true
	}
	return 0, false
}

// Require is HasCapability returning a PermissionError.
func (g PermissionGate) Require(actor Actor, c Capability, target Target) error {
	if g.HasCapability(actor, c, target) {
		return nil
	}
	return &PermissionError{ActorID: actor.ID, Capability: c}
}
