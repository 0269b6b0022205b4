package google

import (
	"strings"
	"time"

	"tally/internal/core"
)

const dateLayout = time.RFC3339

func formatRow(tx core.Transaction) []any {
	return []any{
		tx.Date.Format(dateLayout),
		tx.Title,
		string(tx.Type),
		tx.CategoryID,
		core.FormatAmount(tx.Amount),
		tx.RecurringID,
	}
}

// parseRows converts a values matrix (as returned by the Sheets API) into
// transactions. Rows with an unparsable date or amount are skipped, which
// also drops the header row.
func parseRows(values [][]any) []core.Transaction {
	var out []core.Transaction
	for _, row := range values {
		cols := toStrings(row)
		if len(cols) < 5 {
			continue
		}
		date, err := time.Parse(dateLayout, cols[0])
		if err != nil {
			continue
		}
		amount, err := core.ParseAmount(cols[4])
		if err != nil {
			continue
		}
		tx := core.Transaction{
			Date:       date,
			Title:      cols[1],
			Type:       core.TransactionType(strings.ToLower(cols[2])),
			CategoryID: cols[3],
			Amount:     amount,
		}
		if len(cols) >= 6 {
			tx.RecurringID = cols[5]
		}
		if tx.Validate() != nil {
			continue
		}
		out = append(out, tx)
	}
	return out
}
