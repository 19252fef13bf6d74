package refdata

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spendlens/core/pkg/database"
	"github.com/spendlens/core/pkg/expense"
)

// DefaultAliases is the seeded vendor catalog: well-known descriptor
// substrings mapped to a canonical vendor and a default GL code from
// DefaultChart. Seeds go through the alias registry's upsert so a
// deployment that already learned its own counters keeps them.
func DefaultAliases() []expense.VendorAlias {
	return []expense.VendorAlias{
		{CanonicalName: "UNITED AIRLINES", AliasPattern: "UNITED AIR", DisplayName: "United Airlines", Category: expense.CategoryAirline, DefaultGLCode: "6000", Confidence: 0.9},
		{CanonicalName: "DELTA AIR LINES", AliasPattern: "DELTA AIR", DisplayName: "Delta Air Lines", Category: expense.CategoryAirline, DefaultGLCode: "6000", Confidence: 0.9},
		{CanonicalName: "AMERICAN AIRLINES", AliasPattern: "AMERICAN AIR", DisplayName: "American Airlines", Category: expense.CategoryAirline, DefaultGLCode: "6000", Confidence: 0.9},
		{CanonicalName: "SOUTHWEST AIRLINES", AliasPattern: "SOUTHWES", DisplayName: "Southwest Airlines", Category: expense.CategoryAirline, DefaultGLCode: "6000", Confidence: 0.8},
		{CanonicalName: "MARRIOTT", AliasPattern: "MARRIOTT", DisplayName: "Marriott", Category: expense.CategoryHotel, DefaultGLCode: "6100", Confidence: 0.9},
		{CanonicalName: "HILTON", AliasPattern: "HILTON", DisplayName: "Hilton", Category: expense.CategoryHotel, DefaultGLCode: "6100", Confidence: 0.9},
		{CanonicalName: "HYATT", AliasPattern: "HYATT", DisplayName: "Hyatt", Category: expense.CategoryHotel, DefaultGLCode: "6100", Confidence: 0.9},
		{CanonicalName: "UBER", AliasPattern: "UBER TRIP", DisplayName: "Uber", Category: expense.CategoryRideshare, DefaultGLCode: "6200", Confidence: 0.9},
		{CanonicalName: "UBER EATS", AliasPattern: "UBER EATS", DisplayName: "Uber Eats", Category: expense.CategoryRestaurant, DefaultGLCode: "6300", Confidence: 0.9},
		{CanonicalName: "LYFT", AliasPattern: "LYFT", DisplayName: "Lyft", Category: expense.CategoryRideshare, DefaultGLCode: "6200", Confidence: 0.8},
		{CanonicalName: "STARBUCKS", AliasPattern: "STARBUCKS", DisplayName: "Starbucks", Category: expense.CategoryRestaurant, DefaultGLCode: "6300", Confidence: 0.9},
		{CanonicalName: "AMAZON", AliasPattern: "AMAZON", DisplayName: "Amazon", Category: expense.CategoryRetail, DefaultGLCode: "5000", Confidence: 0.7},
		{CanonicalName: "AMAZON", AliasPattern: "AMZN", DisplayName: "Amazon", Category: expense.CategoryRetail, DefaultGLCode: "5000", Confidence: 0.8},
		{CanonicalName: "AMAZON WEB SERVICES", AliasPattern: "AMAZON WEB SERV", DisplayName: "Amazon Web Services", Category: expense.CategorySoftware, DefaultGLCode: "7100", Confidence: 0.9},
		{CanonicalName: "GOOGLE CLOUD", AliasPattern: "GOOGLE CLOUD", DisplayName: "Google Cloud", Category: expense.CategorySoftware, DefaultGLCode: "7100", Confidence: 0.9},
		{CanonicalName: "TWILIO", AliasPattern: "TWILIO", DisplayName: "Twilio", Category: expense.CategorySoftware, DefaultGLCode: "7100", Confidence: 0.9},
		{CanonicalName: "GITHUB", AliasPattern: "GITHUB", DisplayName: "GitHub", Category: expense.CategorySoftware, DefaultGLCode: "5100", Confidence: 0.9},
		{CanonicalName: "SLACK", AliasPattern: "SLACK", DisplayName: "Slack", Category: expense.CategorySoftware, DefaultGLCode: "5100", Confidence: 0.8},
		{CanonicalName: "ZOOM", AliasPattern: "ZOOM.US", DisplayName: "Zoom", Category: expense.CategorySoftware, DefaultGLCode: "5100", Confidence: 0.9},
		{CanonicalName: "FEDEX", AliasPattern: "FEDEX", DisplayName: "FedEx", Category: expense.CategoryGeneric, DefaultGLCode: "8000", Confidence: 0.9},
		{CanonicalName: "USPS", AliasPattern: "USPS", DisplayName: "USPS", Category: expense.CategoryGeneric, DefaultGLCode: "8000", Confidence: 0.8},
		{CanonicalName: "COMCAST", AliasPattern: "COMCAST", DisplayName: "Comcast", Category: expense.CategoryGeneric, DefaultGLCode: "7000", Confidence: 0.8},
	}
}

// Seed inserts the default chart and departments, skipping codes that
// already exist. Safe to run on every start.
func Seed(ctx context.Context, db *sql.DB, driver string) error {
	var accountStmt, departmentStmt string
	switch driver {
	case database.DriverPostgres:
		accountStmt = `INSERT INTO gl_accounts (code, name, category, active) VALUES ($1, $2, $3, TRUE) ON CONFLICT (code) DO NOTHING`
		departmentStmt = `INSERT INTO departments (code, name, active) VALUES ($1, $2, TRUE) ON CONFLICT (code) DO NOTHING`
	case database.DriverSQLite:
		accountStmt = `INSERT OR IGNORE INTO gl_accounts (code, name, category, active) VALUES (?, ?, ?, 1)`
		departmentStmt = `INSERT OR IGNORE INTO departments (code, name, active) VALUES (?, ?, 1)`
	default:
		return fmt.Errorf("refdata: unsupported driver %q", driver)
	}
	for _, a := range DefaultChart() {
		if _, err := db.ExecContext(ctx, accountStmt, a.Code, a.Name, a.Category); err != nil {
			return fmt.Errorf("refdata: seed account %s: %w", a.Code, err)
		}
	}
	for _, d := range DefaultDepartments() {
		if _, err := db.ExecContext(ctx, departmentStmt, d.Code, d.Name); err != nil {
			return fmt.Errorf("refdata: seed department %s: %w", d.Code, err)
		}
	}
	return nil
}
