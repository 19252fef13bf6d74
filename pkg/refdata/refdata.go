// Package refdata serves the chart-of-accounts reference data that
// categorization resolves against: GL account and department
// enumerations, plus the seeded vendor alias catalog. The read side
// lives here; syncing reference data from an upstream ERP does not.
package refdata

import (
	"context"
	"sort"
)

// GLAccount is one ledger account a transaction can be coded to.
type GLAccount struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Active   bool   `json:"active"`
}

// Department is one cost center a transaction can be attributed to.
type Department struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Source enumerates the reference data available to categorization.
// Implementations return only active rows, ordered by code.
type Source interface {
	GLAccounts(ctx context.Context) ([]GLAccount, error)
	Departments(ctx context.Context) ([]Department, error)
}

// StaticSource serves a fixed catalog. Lite mode and tests use it in
// place of the database-backed source.
type StaticSource struct {
	accounts    []GLAccount
	departments []Department
}

// NewStaticSource builds a source over the given rows. Inactive rows
// are dropped and the rest sorted by code, matching the SQL source.
func NewStaticSource(accounts []GLAccount, departments []Department) *StaticSource {
	s := &StaticSource{}
	for _, a := range accounts {
		if a.Active {
			s.accounts = append(s.accounts, a)
		}
	}
	for _, d := range departments {
		if d.Active {
			s.departments = append(s.departments, d)
		}
	}
	sort.Slice(s.accounts, func(i, j int) bool { return s.accounts[i].Code < s.accounts[j].Code })
	sort.Slice(s.departments, func(i, j int) bool { return s.departments[i].Code < s.departments[j].Code })
	return s
}

// NewDefaultSource builds a static source over the built-in catalog.
func NewDefaultSource() *StaticSource {
	return NewStaticSource(DefaultChart(), DefaultDepartments())
}

// GLAccounts returns the active accounts ordered by code.
func (s *StaticSource) GLAccounts(_ context.Context) ([]GLAccount, error) {
	out := make([]GLAccount, len(s.accounts))
	copy(out, s.accounts)
	return out, nil
}

// Departments returns the active departments ordered by code.
func (s *StaticSource) Departments(_ context.Context) ([]Department, error) {
	out := make([]Department, len(s.departments))
	copy(out, s.departments)
	return out, nil
}

// DefaultChart is the built-in expense chart used until a deployment
// loads its own. Codes follow the common 5xxx office / 6xxx travel /
// 7xxx services / 8xxx logistics layout.
func DefaultChart() []GLAccount {
	return []GLAccount{
		{Code: "5000", Name: "Office Supplies", Category: "Office", Active: true},
		{Code: "5100", Name: "Software Subscriptions", Category: "Technology", Active: true},
		{Code: "5200", Name: "Computer Equipment", Category: "Technology", Active: true},
		{Code: "6000", Name: "Travel - Airfare", Category: "Travel", Active: true},
		{Code: "6100", Name: "Travel - Lodging", Category: "Travel", Active: true},
		{Code: "6200", Name: "Travel - Ground Transport", Category: "Travel", Active: true},
		{Code: "6300", Name: "Meals & Entertainment", Category: "Meals", Active: true},
		{Code: "6400", Name: "Client Meals", Category: "Meals", Active: true},
		{Code: "7000", Name: "Telecommunications", Category: "Services", Active: true},
		{Code: "7100", Name: "Cloud Services", Category: "Technology", Active: true},
		{Code: "7200", Name: "Professional Services", Category: "Services", Active: true},
		{Code: "7300", Name: "Training & Education", Category: "Services", Active: true},
		{Code: "8000", Name: "Shipping & Postage", Category: "Logistics", Active: true},
		{Code: "8100", Name: "Marketing & Advertising", Category: "Marketing", Active: true},
	}
}

// DefaultDepartments is the built-in cost-center list.
func DefaultDepartments() []Department {
	return []Department{
		{Code: "ENG", Name: "Engineering", Active: true},
		{Code: "EXEC", Name: "Executive", Active: true},
		{Code: "FIN", Name: "Finance", Active: true},
		{Code: "HR", Name: "People", Active: true},
		{Code: "MKT", Name: "Marketing", Active: true},
		{Code: "OPS", Name: "Operations", Active: true},
		{Code: "SALES", Name: "Sales", Active: true},
	}
}
