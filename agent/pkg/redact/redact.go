package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/malbeclabs/lakeql/agent/pkg/metrics"
	"github.com/malbeclabs/lakeql/agent/pkg/workflow"
)

// Mode selects how detected values are replaced.
type Mode string

const (
	// ModePseudonymize replaces values with stable pseudonyms so that equal
	// inputs still group together. Email domains and phone country codes
	// are kept.
	ModePseudonymize Mode = "pseudonymize"
	// ModeStrict replaces values with a fixed marker such as [EMAIL_REDACTED].
	ModeStrict Mode = "strict"
	// ModeOff disables redaction.
	ModeOff Mode = "off"
)

const (
	KindEmail      = "email"
	KindCard       = "credit_card"
	KindSSN        = "ssn"
	KindPhone      = "phone"
	KindIP         = "ip_address"
	KindAccount    = "account_number"
	KindCustomerID = "customer_id"
	KindName       = "name"
)

type pattern struct {
	kind string
	re   *regexp.Regexp
}

// Patterns run in order; earlier kinds win where matches overlap.
var patterns = []pattern{
	{KindEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{KindCard, regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b`)},
	{KindSSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{KindPhone, regexp.MustCompile(`\+\d{1,4}(?:[\s.\-]?\(?\d{1,5}\)?){2,5}`)},
	{KindPhone, regexp.MustCompile(`(?:\(\d{3}\)\s?|\b\d{3}[\s.\-])\d{3}[\s.\-]\d{4}\b`)},
	{KindIP, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{KindAccount, regexp.MustCompile(`(?i)\b(?:ACC|ACCT|ACCOUNT)[\s\-_]?\d{3,12}\b`)},
	{KindCustomerID, regexp.MustCompile(`(?i)\b(?:CUST|CID|CUSTOMER)[\s\-_]?[0-9A-Z]*\d[0-9A-Z]*\b`)},
}

var namePattern = pattern{KindName, regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?\b`)}

// Config configures a Redactor.
type Config struct {
	Logger *slog.Logger
	Mode   Mode // Default ModePseudonymize
	Names  bool // Also mask capitalized first/last name pairs
}

// Validate checks the config and applies defaults.
func (c *Config) Validate() error {
	if c.Mode == "" {
		c.Mode = ModePseudonymize
	}
	switch c.Mode {
	case ModePseudonymize, ModeStrict, ModeOff:
	default:
		return fmt.Errorf("unknown redaction mode %q", c.Mode)
	}
	return nil
}

// Redactor masks personal data in query results before they reach the
// summarizer or the caller. It is safe for concurrent use.
type Redactor struct {
	log      *slog.Logger
	mode     Mode
	patterns []pattern
}

// New creates a Redactor.
func New(cfg Config) (*Redactor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ps := patterns
	if cfg.Names {
		ps = append(append([]pattern{}, patterns...), namePattern)
	}
	return &Redactor{log: cfg.Logger, mode: cfg.Mode, patterns: ps}, nil
}

// Text masks every detected value in s and returns the masked text with the
// number of matches per kind.
func (r *Redactor) Text(s string) (string, map[string]int) {
	if r.mode == ModeOff || s == "" {
		return s, nil
	}
	var counts map[string]int
	for _, p := range r.patterns {
		s = p.re.ReplaceAllStringFunc(s, func(match string) string {
			if counts == nil {
				counts = make(map[string]int)
			}
			counts[p.kind]++
			return r.replacement(p.kind, match)
		})
	}
	return s, counts
}

// RedactResult masks string cells of res in place and returns the number of
// values masked.
func (r *Redactor) RedactResult(res *workflow.QueryResult) int {
	if r.mode == ModeOff || res == nil {
		return 0
	}
	byColumn := make(map[string]map[string]int)
	total := 0
	for _, row := range res.Rows {
		for col, v := range row {
			str, ok := v.(string)
			if !ok {
				continue
			}
			masked, counts := r.Text(str)
			if len(counts) == 0 {
				continue
			}
			row[col] = masked
			if byColumn[col] == nil {
				byColumn[col] = make(map[string]int)
			}
			for kind, n := range counts {
				byColumn[col][kind] += n
				total += n
				metrics.RecordRedactions(kind, n)
			}
		}
	}
	if total > 0 && r.log != nil {
		cols := make([]string, 0, len(byColumn))
		for col := range byColumn {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			r.log.Warn("redact: masked personal data in result column", "column", col, "kinds", summarize(byColumn[col]))
		}
	}
	return total
}

func (r *Redactor) replacement(kind, value string) string {
	if r.mode == ModeStrict {
		return "[" + strings.ToUpper(kind) + "_REDACTED]"
	}
	switch kind {
	case KindEmail:
		local, domain, _ := strings.Cut(value, "@")
		return "user_" + digest(local) + "@" + domain
	case KindPhone:
		return maskDigits(value)
	}
	return strings.ToUpper(kind) + "_" + digest(value)
}

// maskDigits replaces digits with X, keeping a leading country code.
func maskDigits(phone string) string {
	prefix := ""
	if strings.HasPrefix(phone, "+") {
		end := 1
		for end < len(phone) && end <= 4 && phone[end] >= '0' && phone[end] <= '9' {
			end++
		}
		prefix, phone = phone[:end], phone[end:]
	}
	return prefix + strings.Map(func(c rune) rune {
		if c >= '0' && c <= '9' {
			return 'X'
		}
		return c
	}, phone)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}

func summarize(counts map[string]int) string {
	kinds := make([]string, 0, len(counts))
	for kind, n := range counts {
		kinds = append(kinds, fmt.Sprintf("%s=%d", kind, n))
	}
	sort.Strings(kinds)
	return strings.Join(kinds, ",")
}
