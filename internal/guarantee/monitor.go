// internal/guarantee/monitor.go
package guarantee

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

const criticalExpiryDays = 7

// DaysUntil returns the whole days from now to t, rounding partial days up.
// Past instants give zero or a negative count.
func DaysUntil(t, now time.Time) int {
	return int(math.Ceil(t.Sub(now).Hours() / 24))
}

// IsNearExpiry reports whether expiry falls within window days after now.
func IsNearExpiry(expiry, now time.Time, window int) bool {
	days := DaysUntil(expiry, now)
	return days > 0 && days <= window
}

// IsExpired reports whether expiry is strictly before now.
func IsExpired(expiry, now time.Time) bool {
	return expiry.Before(now)
}

// IsRenewalDue reports whether a renewable guarantee has entered its renewal
// notice period.
func IsRenewalDue(g *Guarantee, now time.Time) bool {
	if !g.IsRenewable {
		return false
	}
	days := DaysUntil(g.ExpiryDate, now)
	return days > 0 && days <= g.RenewalNoticeDays
}

// EvaluateAlerts returns the alerts g should carry at now that it does not
// already have. Alerts are identified by kind and due date, so evaluating
// twice yields nothing new. Only active guarantees are monitored.
func EvaluateAlerts(g *Guarantee, now time.Time, window int) []Alert {
	if g.IsArchived || g.Status != StatusActive {
		return nil
	}

	var out []Alert
	due := g.ExpiryDate
	add := func(a Alert) {
		if hasAlert(g, a.Kind, due) {
			return
		}
		a.ID = uuid.New()
		a.TriggerDate = now
		a.DueDate = &due
		out = append(out, a)
	}

	days := DaysUntil(g.ExpiryDate, now)
	switch {
	case IsExpired(g.ExpiryDate, now):
		add(Alert{
			Kind:           AlertExpired,
			Severity:       SeverityCritical,
			Title:          "Guarantee expired",
			Message:        fmt.Sprintf("Guarantee %s expired on %s", g.GuaranteeNumber, g.ExpiryDate.Format(time.DateOnly)),
			ActionRequired: true,
		})
	case IsNearExpiry(g.ExpiryDate, now, window):
		severity := SeverityWarning
		if days <= criticalExpiryDays {
			severity = SeverityCritical
		}
		add(Alert{
			Kind:           AlertExpiryWarning,
			Severity:       severity,
			Title:          "Guarantee expiring soon",
			Message:        fmt.Sprintf("Guarantee %s expires in %d days", g.GuaranteeNumber, days),
			ActionRequired: severity == SeverityCritical,
		})
	}

	if IsRenewalDue(g, now) {
		add(Alert{
			Kind:           AlertRenewalDue,
			Severity:       SeverityInfo,
			Title:          "Renewal due",
			Message:        fmt.Sprintf("Renewal notice period for %s started; %d days to expiry", g.GuaranteeNumber, days),
			ActionRequired: !g.AutoRenewal,
		})
	}
	return out
}

func hasAlert(g *Guarantee, kind AlertKind, due time.Time) bool {
	for _, a := range g.Alerts {
		if a.Kind == kind && a.DueDate != nil && a.DueDate.Equal(due) {
			return true
		}
	}
	return false
}
