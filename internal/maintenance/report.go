package maintenance

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-fulfillment/internal/jobs"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type Report struct {
	Date              string `json:"date"`
	TotalOrders       int    `json:"total_orders"`
	TotalRevenue      string `json:"total_revenue"`
	AverageOrderValue string `json:"average_order_value"`
}

// BuildReport aggregates every order created on day, whatever its status.
func BuildReport(day time.Time, list []orders.Order) Report {
	r := Report{Date: day.Format(dateLayout), TotalOrders: len(list), TotalRevenue: "0", AverageOrderValue: "0"}
	if len(list) == 0 {
		return r
	}
	revenue := decimal.Zero
	for _, o := range list {
		revenue = revenue.Add(o.TotalAmount)
	}
	r.TotalRevenue = revenue.StringFixed(2)
	r.AverageOrderValue = revenue.DivRound(decimal.NewFromInt(int64(len(list))), 2).StringFixed(2)
	return r
}

func ReportFileName(date string) string {
	return fmt.Sprintf("daily_report_%s.json", date)
}

// HandleDailyReport rewrites the report for the payload's date; rerunning
// it produces the same file.
func (s *Service) HandleDailyReport(ctx context.Context, job jobs.Job) error {
	p, err := jobs.Decode[DailyReportPayload](job)
	if err != nil {
		return err
	}
	day, err := time.ParseInLocation(dateLayout, p.Date, time.UTC)
	if err != nil {
		return jobs.Permanent(fmt.Errorf("report date %q: %w", p.Date, err))
	}
	list, err := s.Store.ListOrders(ctx, orders.OrderFilter{CreatedFrom: day, CreatedBefore: day.AddDate(0, 0, 1)})
	if err != nil {
		return err
	}
	r := BuildReport(day, list)
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return jobs.Permanent(err)
	}
	name := ReportFileName(r.Date)
	if err := writeFileAtomic(s.ReportDir, name, func(f *os.File) error {
		_, err := f.Write(b)
		return err
	}); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	s.log().Info("daily_report_written", "date", r.Date, "total_orders", r.TotalOrders, "total_revenue", r.TotalRevenue)
	return nil
}
