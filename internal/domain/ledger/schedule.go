package ledger

import (
	"time"
)

// InstallmentAmount returns the per-installment amount for a borrower, total
// due divided evenly with the remainder folded into the final installment by
// the caller. Zero for savers and borrowers without an installment count.
func InstallmentAmount(c Customer) int64 {
	if c.Installments <= 0 || c.Principal == 0 {
		return 0
	}
	return TotalDue(c) / int64(c.Installments)
}

// DueDates expands a borrower's expected weekly collection dates starting one
// week after the loan date. A date that falls on a Sunday or an overridden
// holiday shifts forward day by day until it lands on a collectable day; an
// override with IsHoliday=false makes even a Sunday collectable.
//
// Returns nil when the loan date is missing or unparseable; the ledger
// tolerates sparse legacy rows.
func DueDates(c Customer, overrides []HolidayOverride) []time.Time {
	if c.Installments <= 0 || c.LoanDate == "" {
		return nil
	}
	start, err := time.Parse("2006-01-02", c.LoanDate)
	if err != nil {
		return nil
	}

	byDate := make(map[string]bool, len(overrides))
	for _, o := range overrides {
		byDate[o.Date] = o.IsHoliday
	}

	dates := make([]time.Time, 0, c.Installments)
	for i := 1; i <= c.Installments; i++ {
		due := start.AddDate(0, 0, 7*i)
		for !collectable(due, byDate) {
			due = due.AddDate(0, 0, 1)
		}
		dates = append(dates, due)
	}
	return dates
}

func collectable(day time.Time, overrides map[string]bool) bool {
	if isHoliday, ok := overrides[day.Format("2006-01-02")]; ok {
		return !isHoliday
	}
	return day.Weekday() != time.Sunday
}
