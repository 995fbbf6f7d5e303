/*
scenarios.go - Demo data for development and demonstrations

PURPOSE:
  Populates a fresh database with a small organisation so the API can be
  exercised without any setup: two departments, each with a supervisor,
  plus HR and an admin, and a full set of balances for the year.

DEMO ORGANISATION:
  engineering: alice (employee), bob (supervisor)
  sales:       dave (employee),  erin (supervisor)
  people:      carol (hr),       admin (admin)

  Every employee gets annual 20, sick 10 and personal 3 days.

USAGE:
  DEMO_SEED=true ./server
  curl -H 'X-Actor-ID: alice' localhost:8080/api/balances/alice

NOTE:
  Seeding is idempotent: employees are upserted and balances are
  re-assigned with replace, which keeps any used or pending days.
*/
package api

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/directory"
	"github.com/warp/leave-engine/leave"
)

// EmployeeWriter stores employee records.
type EmployeeWriter interface {
	SaveEmployee(ctx context.Context, emp directory.Employee) error
}

// DemoEmployees is the seeded organisation.
var DemoEmployees = []directory.Employee{
	{ID: "alice", Name: "Alice Martin", Email: "alice@example.com", Department: "engineering", Roles: []string{directory.RoleEmployee}},
	{ID: "bob", Name: "Bob Chen", Email: "bob@example.com", Department: "engineering", Roles: []string{directory.RoleSupervisor}},
	{ID: "dave", Name: "Dave Okafor", Email: "dave@example.com", Department: "sales", Roles: []string{directory.RoleEmployee}},
	{ID: "erin", Name: "Erin Novak", Email: "erin@example.com", Department: "sales", Roles: []string{directory.RoleSupervisor}},
	{ID: "carol", Name: "Carol Diaz", Email: "carol@example.com", Department: "people", Roles: []string{directory.RoleHR}},
	{ID: "admin", Name: "Admin", Email: "admin@example.com", Department: "people", Roles: []string{directory.RoleAdmin}},
}

var demoAllowance = map[leave.LeaveType]int64{
	leave.LeaveAnnual:   20,
	leave.LeaveSick:     10,
	leave.LeavePersonal: 3,
}

// SeedSummary reports what SeedDemo wrote.
type SeedSummary struct {
	Employees int
	Balances  int
}

// SeedDemo writes the demo organisation and its balances for year.
func SeedDemo(ctx context.Context, employees EmployeeWriter, ledger *leave.Ledger, year int) (SeedSummary, error) {
	var summary SeedSummary

	for _, emp := range DemoEmployees {
		emp.HireDate = leave.NewDate(year-1, 1, 1)
		if err := employees.SaveEmployee(ctx, emp); err != nil {
			return summary, fmt.Errorf("seed employee %s: %w", emp.ID, err)
		}
		summary.Employees++

		for leaveType, days := range demoAllowance {
			_, err := ledger.Assign(ctx, leave.AssignInput{
				UserID:    emp.ID,
				LeaveType: leaveType,
				Year:      year,
				Amount:    decimal.NewFromInt(days),
				Mode:      leave.AssignReplace,
				Note:      "demo allowance",
			}, leave.SystemActorID)
			if err != nil {
				return summary, fmt.Errorf("seed %s balance for %s: %w", leaveType, emp.ID, err)
			}
			summary.Balances++
		}
	}
	return summary, nil
}
