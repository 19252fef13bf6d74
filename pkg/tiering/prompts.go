package tiering

import (
	"context"
	"fmt"
	"strings"

	"github.com/spendlens/core/pkg/ai"
	"github.com/spendlens/core/pkg/expense"
)

const normalizeSystem = `You clean up raw bank-statement descriptions into a short canonical merchant name.
Remove store numbers, location codes, card-processor prefixes (SQ *, TST*, PAYPAL *), phone numbers, and trailing reference digits.
Keep the merchant recognizable: "SQ *BLUE BOTTLE COF 0042 OAK" becomes "Blue Bottle Coffee".
Respond with only a JSON object: {"normalized": "<canonical name>"}.`

var normalizeSchema = ai.MustCompileSchema("normalize", `{
	"type": "object",
	"required": ["normalized"],
	"properties": {
		"normalized": {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`)

const categorizeSystem = `You are an expense-coding assistant. Given one card transaction, pick the best GL account code and department code.
Use only codes from the provided lists when lists are present. Use "" for a field you cannot determine.
Respond with only a JSON object: {"gl_code": "<code>", "department": "<code>", "confidence": <0..1>}.`

var categorizeSchema = ai.MustCompileSchema("categorize", `{
	"type": "object",
	"required": ["gl_code", "department"],
	"properties": {
		"gl_code": {"type": "string"},
		"department": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"additionalProperties": false
}`)

// categorizePrompt renders the transaction plus whatever reference
// data is configured. Reference lookups are best-effort; the model can
// still answer from the transaction alone.
func (r *Resolver) categorizePrompt(ctx context.Context, txn *expense.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transaction: %s\n", txn.Description)
	if !txn.TransactionDate.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", txn.TransactionDate.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Amount: %s\n", txn.Amount.Abs())

	if r.ref == nil {
		return b.String()
	}
	if accounts, err := r.ref.GLAccounts(ctx); err != nil {
		r.log.WarnContext(ctx, "reference accounts unavailable", "error", err)
	} else if len(accounts) > 0 {
		b.WriteString("GL accounts:\n")
		for _, a := range accounts {
			fmt.Fprintf(&b, "  %s %s\n", a.Code, a.Name)
		}
	}
	if departments, err := r.ref.Departments(ctx); err != nil {
		r.log.WarnContext(ctx, "reference departments unavailable", "error", err)
	} else if len(departments) > 0 {
		b.WriteString("Departments:\n")
		for _, d := range departments {
			fmt.Fprintf(&b, "  %s %s\n", d.Code, d.Name)
		}
	}
	return b.String()
}
