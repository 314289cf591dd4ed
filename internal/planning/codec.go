package planning

import (
	"fmt"
	"strings"

	"github.com/ashureev/goalpath/internal/domain"
)

// allowedKinds lists the oracle result kinds each phase accepts.
var allowedKinds = map[domain.PhaseTag][]domain.ResultKind{
	domain.PhaseDefineGoal:       {domain.KindFollowUp, domain.KindDefinition},
	domain.PhaseGetPrerequisites: {domain.KindFollowUp, domain.KindPrerequisites},
	domain.PhaseRefinePhases:     {domain.KindPhasePlan},
	domain.PhaseGenerateDailies:  {domain.KindDailyBatch},
}

// AllowedKinds returns the result kinds the oracle may produce in phase.
func AllowedKinds(phase domain.PhaseTag) []domain.ResultKind {
	return append([]domain.ResultKind(nil), allowedKinds[phase]...)
}

func kindAllowed(phase domain.PhaseTag, kind domain.ResultKind) bool {
	for _, k := range allowedKinds[phase] {
		if k == kind {
			return true
		}
	}
	return false
}

// ParseResult decodes raw oracle text into a structured result valid for phase.
// Code fences, surrounding prose, comments and a few common literal mistakes
// are tolerated. Every failure wraps ErrMalformedOracleOutput.
func ParseResult(raw string, phase domain.PhaseTag) (domain.Result, error) {
	obj := firstObject(unfence(raw))
	if obj == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformedOracleOutput)
	}

	res, err := domain.DecodeResult([]byte(repairJSON(obj)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOracleOutput, err)
	}
	if !kindAllowed(phase, res.Kind()) {
		return nil, fmt.Errorf("%w: %s is not allowed in %s", ErrMalformedOracleOutput, res.Kind(), phase)
	}
	return res, nil
}

// unfence drops markdown fence lines (```json, ```), keeping what they wrap.
func unfence(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// firstObject returns the first balanced {...} block, respecting strings.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	var sc scanner
	depth := 0
	for i := start; i < len(s); i++ {
		if sc.step(s[i]) {
			continue
		}
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// scanner tracks whether the current byte is inside a JSON string.
type scanner struct {
	inString bool
	escaped  bool
}

// step consumes c and reports whether it belongs to a string literal
// (including its quotes).
func (sc *scanner) step(c byte) bool {
	switch {
	case sc.escaped:
		sc.escaped = false
		return true
	case sc.inString && c == '\\':
		sc.escaped = true
		return true
	case c == '"':
		sc.inString = !sc.inString
		return true
	default:
		return sc.inString
	}
}

// repairJSON fixes mistakes models make outside string literals:
// line and block comments, numbers written as ".5", and bare dates such
// as 2028-01-01 that were meant to be strings.
func repairJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	var sc scanner
	for i := 0; i < len(s); i++ {
		c := s[i]
		if sc.step(c) {
			b.WriteByte(c)
			continue
		}

		switch {
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			for i+1 < len(s) && s[i+1] != '\n' {
				i++
			}
			continue
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				i = len(s)
			} else {
				i += 2 + end + 1
			}
			continue
		case c == '.' && i+1 < len(s) && isDigit(s[i+1]) && startsValue(lastSignificant(s, i-1)):
			b.WriteByte('0')
		case isDigit(c) && startsValue(lastSignificant(s, i-1)) && isBareDate(s[i:]):
			b.WriteByte('"')
			b.WriteString(s[i : i+len(domain.DateLayout)])
			b.WriteByte('"')
			i += len(domain.DateLayout) - 1
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func lastSignificant(s string, i int) byte {
	for ; i >= 0; i-- {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
		default:
			return s[i]
		}
	}
	return 0
}

func startsValue(c byte) bool {
	switch c {
	case 0, ':', ',', '[', '-':
		return true
	}
	return false
}

// isBareDate reports whether s starts with an unquoted YYYY-MM-DD literal.
func isBareDate(s string) bool {
	const n = len(domain.DateLayout)
	if len(s) < n {
		return false
	}
	for i := 0; i < n; i++ {
		if i == 4 || i == 7 {
			if s[i] != '-' {
				return false
			}
			continue
		}
		if !isDigit(s[i]) {
			return false
		}
	}
	return len(s) == n || !isDigit(s[n])
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
