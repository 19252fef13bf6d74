package statements

import (
	"fmt"
	"strings"

	"github.com/spendlens/core/pkg/ai"
)

const mappingSystem = `You map the columns of a bank or card statement onto transaction fields.
Field types: date, post_date, description, amount, category, memo, reference, ignore. Map every header; use "ignore" for columns that carry no transaction data.
dateFormat describes the date column with YYYY, MM, DD tokens, for example "MM/DD/YYYY".
amountSign is "negative_charges" when charges appear as negative numbers and "positive_charges" when charges appear as positive numbers.
Respond with only a JSON object: {"columnMapping": {"<header>": "<field>"}, "dateFormat": "<format>", "amountSign": "<sign>", "confidence": <0..1>}.`

var mappingSchema = ai.MustCompileSchema("column_mapping", `{
	"type": "object",
	"required": ["columnMapping", "dateFormat", "amountSign", "confidence"],
	"properties": {
		"columnMapping": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		},
		"dateFormat": {"type": "string"},
		"amountSign": {"type": "string", "enum": ["negative_charges", "positive_charges"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"additionalProperties": false
}`)

// mappingPrompt renders the header row and up to sampleRowLimit data
// rows, pipe-separated so column boundaries survive commas in values.
func mappingPrompt(headers []string, samples [][]string) string {
	var b strings.Builder
	b.WriteString("Headers: ")
	b.WriteString(strings.Join(headers, " | "))
	b.WriteByte('\n')
	for i, row := range samples {
		if i == sampleRowLimit {
			break
		}
		fmt.Fprintf(&b, "Row %d: %s\n", i+1, strings.Join(row, " | "))
	}
	return b.String()
}
