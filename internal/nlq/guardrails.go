package nlq

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type GuardrailOptions struct {
	AllowedShopIDs  []string
	RequireDTFilter bool
	MaxDaysLookback int
	TodayISO        string // "YYYY-MM-DD" (server-side). If empty, uses UTC today.
}

// ValidateSQL enforces the guardrails for model-generated queries:
// - SELECT only
// - no semicolon, no comments
// - no dangerous keywords
// - must include dt predicate (partition pruning) AND bounded lookback
// - must include shop_id filter restricted to the caller's shops
func ValidateSQL(sql string, opt GuardrailOptions) error {
	s := strings.TrimSpace(sql)
	if s == "" {
		return fmt.Errorf("empty sql")
	}
	low := strings.ToLower(s)

	if strings.Contains(low, ";") {
		return fmt.Errorf("semicolon not allowed")
	}
	if strings.Contains(low, "--") || strings.Contains(low, "/*") || strings.Contains(low, "*/") {
		return fmt.Errorf("comments not allowed")
	}
	if !(strings.HasPrefix(low, "select") || strings.HasPrefix(low, "with")) {
		return fmt.Errorf("only SELECT queries are allowed")
	}

	block := []string{
		"insert ", "update ", "delete ", "merge ", "drop ", "alter ", "create ",
		"truncate ", "grant ", "revoke ", "call ", "execute ", "prepare ", "deallocate ",
	}
	for _, kw := range block {
		if strings.Contains(low, kw) {
			return fmt.Errorf("disallowed keyword: %s", strings.TrimSpace(kw))
		}
	}

	if opt.RequireDTFilter {
		if opt.MaxDaysLookback <= 0 {
			opt.MaxDaysLookback = 60
		}
		today := opt.TodayISO
		if strings.TrimSpace(today) == "" {
			today = time.Now().UTC().Format("2006-01-02")
		}
		if err := requireBoundedDTPredicate(low, today, opt.MaxDaysLookback); err != nil {
			return err
		}
	}

	if len(opt.AllowedShopIDs) > 0 {
		if err := requireAllowedShopFilter(low, opt.AllowedShopIDs); err != nil {
			return err
		}
	} else {
		if !regexp.MustCompile(`\bshop_id\b`).MatchString(low) {
			return fmt.Errorf("missing required shop_id filter")
		}
	}

	return nil
}

// requireBoundedDTPredicate enforces dt is filtered and not older than maxDays.
// Accepts:
//
//	dt >= date 'YYYY-MM-DD'
//	dt >  date 'YYYY-MM-DD'
//	dt between date 'YYYY-MM-DD' and date 'YYYY-MM-DD'
//
// and the same forms without the date keyword. A query with only an upper
// bound (dt <= ...) is rejected.
func requireBoundedDTPredicate(lowSQL, todayISO string, maxDays int) error {
	today, err := time.Parse("2006-01-02", todayISO)
	if err != nil {
		return fmt.Errorf("invalid TodayISO: %s", todayISO)
	}
	minAllowed := today.AddDate(0, 0, -maxDays)

	betweenRe := regexp.MustCompile(`\bdt\b\s+between\s+(date\s+)?'(\d{4}-\d{2}-\d{2})'\s+and\s+(date\s+)?'(\d{4}-\d{2}-\d{2})'`)
	if m := betweenRe.FindStringSubmatch(lowSQL); len(m) == 5 {
		start := m[2]
		startDate, err := time.Parse("2006-01-02", start)
		if err != nil {
			return fmt.Errorf("dt BETWEEN has invalid start date: %s", start)
		}
		if startDate.Before(minAllowed) {
			return fmt.Errorf("dt lookback too large: start=%s older than %d days", start, maxDays)
		}
		return nil
	}

	geRe := regexp.MustCompile(`\bdt\b\s*(>=|>)\s*(date\s+)?'(\d{4}-\d{2}-\d{2})'`)
	if m := geRe.FindStringSubmatch(lowSQL); len(m) == 4 {
		start := m[3]
		startDate, err := time.Parse("2006-01-02", start)
		if err != nil {
			return fmt.Errorf("dt lower bound invalid: %s", start)
		}
		if startDate.Before(minAllowed) {
			return fmt.Errorf("dt lookback too large: start=%s older than %d days", start, maxDays)
		}
		return nil
	}

	if regexp.MustCompile(`\bdt\b`).MatchString(lowSQL) {
		return fmt.Errorf("dt filter must include a lower bound (dt >= ... or dt BETWEEN ...)")
	}
	return fmt.Errorf("missing required dt filter")
}

func requireAllowedShopFilter(lowSQL string, allowed []string) error {
	if !regexp.MustCompile(`\bshop_id\b`).MatchString(lowSQL) {
		return fmt.Errorf("missing required shop_id filter")
	}

	allow := map[string]bool{}
	for _, v := range allowed {
		allow[strings.ToLower(strings.TrimSpace(v))] = true
	}

	// Accept shop_id = 'x' or shop_id IN ('x','y'); every quoted value must be
	// in the allowlist.
	re := regexp.MustCompile(`\bshop_id\b\s*(=|in)\s*\(([^)]*)\)|\bshop_id\b\s*=\s*'([^']*)'`)
	matches := re.FindAllStringSubmatch(lowSQL, -1)
	if len(matches) == 0 {
		return fmt.Errorf("shop_id filter must be equality or IN list")
	}

	inValRe := regexp.MustCompile(`'([^']*)'`)
	for _, m := range matches {
		if strings.TrimSpace(m[2]) != "" {
			valMatches := inValRe.FindAllStringSubmatch(m[2], -1)
			if len(valMatches) == 0 {
				return fmt.Errorf("shop_id IN list must contain quoted values")
			}
			for _, vm := range valMatches {
				v := strings.ToLower(strings.TrimSpace(vm[1]))
				if !allow[v] {
					return fmt.Errorf("shop_id value not allowed: %s", vm[1])
				}
			}
			return nil
		}
		if strings.TrimSpace(m[3]) != "" {
			v := strings.ToLower(strings.TrimSpace(m[3]))
			if !allow[v] {
				return fmt.Errorf("shop_id value not allowed: %s", m[3])
			}
			return nil
		}
	}

	return fmt.Errorf("unable to validate shop_id predicate")
}
