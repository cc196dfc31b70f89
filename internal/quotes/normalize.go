package quotes

import (
	"strconv"
	"strings"
)

// NormalizeAvailability maps free-form stock language onto the fixed
// availability vocabulary. Anything unrecognized is Unknown.
func NormalizeAvailability(text string) Availability {
	t := strings.ToUpper(text)
	t = strings.NewReplacer("_", " ", "-", " ").Replace(t)
	t = strings.Join(strings.Fields(t), " ")

	switch {
	case t == "":
		return Unknown
	case strings.Contains(t, "NOT IN STOCK"), strings.Contains(t, "OUT OF STOCK"), strings.Contains(t, "BACKORDER"), strings.Contains(t, "BACK ORDER"):
		return Backordered
	case strings.Contains(t, "SPECIAL ORDER"):
		return SpecialOrder
	case strings.Contains(t, "IN STOCK"):
		return InStock
	default:
		return Unknown
	}
}

// ParseLeadTimeDays reads the leading integer of a lead-time phrase such as
// "2 days" or "3-4 weeks". Weeks are converted to days. It returns nil when
// the text carries no number ("ships today").
func ParseLeadTimeDays(text string) *int {
	t := strings.TrimSpace(strings.ToLower(text))
	start := strings.IndexAny(t, "0123456789")
	if start < 0 {
		return nil
	}
	end := start
	for end < len(t) && t[end] >= '0' && t[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(t[start:end])
	if err != nil {
		return nil
	}
	if strings.Contains(t[end:], "week") {
		n *= 7
	}
	return &n
}

// ParsePrice extracts the first decimal amount from text such as "$45.00
// each", "USD 45.00" or "45.00/ea", ignoring currency symbols and
// thousands separators. It returns nil when no amount is found.
func ParsePrice(s string) *float64 {
	s = strings.ReplaceAll(s, ",", "")
	start := -1
	for i, r := range s {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}
	end := start
	seenDot := false
	for end < len(s) {
		c := s[end]
		if c >= '0' && c <= '9' {
			end++
			continue
		}
		if c == '.' && !seenDot && end+1 < len(s) && s[end+1] >= '0' && s[end+1] <= '9' {
			seenDot = true
			end++
			continue
		}
		break
	}
	v, err := strconv.ParseFloat(s[start:end], 64)
	if err != nil {
		return nil
	}
	return &v
}

// ApplyLeadTimeOverride recodes IN_STOCK to BACKORDERED when a positive
// lead time contradicts immediate availability.
func ApplyLeadTimeOverride(a Availability, leadTimeDays *int) Availability {
	if a == InStock && leadTimeDays != nil && *leadTimeDays > 0 {
		return Backordered
	}
	return a
}
