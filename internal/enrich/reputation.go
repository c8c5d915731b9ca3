package enrich

import (
	"fmt"
	"math"
	"strings"

	"xianyuwatch/internal/types"
)

const (
	daysPerYear  = 365.25
	daysPerMonth = daysPerYear / 12
)

// FormatTenure renders a platform tenure in days. Years are whole 365.25-day
// spans; the remainder rounds to months, and twelve months carry into a year.
func FormatTenure(days int) string {
	if days < 0 {
		return types.UnknownTenure
	}
	years := int(math.Floor(float64(days) / daysPerYear))
	remaining := float64(days) - float64(years)*daysPerYear
	months := int(math.RoundToEven(remaining / daysPerMonth))
	if months == 12 {
		years++
		months = 0
	}

	switch {
	case years > 0 && months > 0:
		return fmt.Sprintf("%d years %d months", years, months)
	case years > 0:
		return fmt.Sprintf("%d years exactly", years)
	case months > 0:
		return fmt.Sprintf("%d months", months)
	default:
		return "under one month"
	}
}

// RoleFromTag maps the rating's role label onto a role.
func RoleFromTag(tag string) types.RaterRole {
	switch {
	case strings.Contains(tag, "卖家"):
		return types.RoleSeller
	case strings.Contains(tag, "买家"):
		return types.RoleBuyer
	default:
		return types.RoleUnknown
	}
}

// ComputeReputation partitions ratings by role and counts positives in each.
func ComputeReputation(ratings []types.Rating) (asSeller, asBuyer types.Reputation) {
	var sellerPos, sellerTotal, buyerPos, buyerTotal int
	for _, r := range ratings {
		positive := r.Polarity == types.PolarityPositive
		switch r.Role {
		case types.RoleSeller:
			sellerTotal++
			if positive {
				sellerPos++
			}
		case types.RoleBuyer:
			buyerTotal++
			if positive {
				buyerPos++
			}
		}
	}
	return NewReputation(sellerPos, sellerTotal), NewReputation(buyerPos, buyerTotal)
}

// NewReputation formats a positive/total pair. A zero total has no rate.
func NewReputation(positive, total int) types.Reputation {
	rate := types.NotApplicable
	if total > 0 {
		rate = fmt.Sprintf("%.2f%%", float64(positive)/float64(total)*100)
	}
	return types.Reputation{
		Positive: positive,
		Total:    total,
		Count:    fmt.Sprintf("%d/%d", positive, total),
		Rate:     rate,
	}
}
