package password

import "unicode"

// Strength is a heuristic estimate of password quality. It is advisory
// only; acceptance decisions always go through the policy in Hash.
type Strength struct {
	Score       int
	Tier        string
	Suggestions []string
}

const maxScore = 100

// Score rates the plaintext on length, character-class variety, and the
// absence of repeated or sequential runs.
func (h *Hasher) Score(plaintext string) Strength {
	var s Strength

	length := len([]rune(plaintext))
	switch {
	case length >= 16:
		s.Score += 40
	case length >= 12:
		s.Score += 30
	case length >= 8:
		s.Score += 20
	case length > 0:
		s.Score += 10
		s.Suggestions = append(s.Suggestions, "use at least 8 characters")
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range plaintext {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	classes := 0
	for _, present := range []bool{hasUpper, hasLower, hasDigit, hasSpecial} {
		if present {
			classes++
		}
	}
	s.Score += classes * 10

	if !hasUpper || !hasLower {
		s.Suggestions = append(s.Suggestions, "mix uppercase and lowercase letters")
	}
	if !hasDigit {
		s.Suggestions = append(s.Suggestions, "add a digit")
	}
	if !hasSpecial {
		s.Suggestions = append(s.Suggestions, "add a special character")
	}

	if hasRepeatedRun(plaintext) {
		s.Score -= 10
		s.Suggestions = append(s.Suggestions, "avoid repeated characters")
	}
	if hasSequentialRun(plaintext) {
		s.Score -= 10
		s.Suggestions = append(s.Suggestions, "avoid sequential characters")
	} else if s.Score > 60 {
		s.Score += 20
	}

	if s.Score < 0 {
		s.Score = 0
	}
	if s.Score > maxScore {
		s.Score = maxScore
	}

	switch {
	case s.Score >= 80:
		s.Tier = "strong"
	case s.Score >= 60:
		s.Tier = "good"
	case s.Score >= 40:
		s.Tier = "fair"
	default:
		s.Tier = "weak"
	}

	return s
}

// hasRepeatedRun reports three or more identical characters in a row.
func hasRepeatedRun(s string) bool {
	runes := []rune(s)
	for i := 2; i < len(runes); i++ {
		if runes[i] == runes[i-1] && runes[i] == runes[i-2] {
			return true
		}
	}
	return false
}

// hasSequentialRun reports three or more ascending or descending
// adjacent characters, e.g. "abc" or "321".
func hasSequentialRun(s string) bool {
	runes := []rune(s)
	for i := 2; i < len(runes); i++ {
		up := runes[i] == runes[i-1]+1 && runes[i-1] == runes[i-2]+1
		down := runes[i] == runes[i-1]-1 && runes[i-1] == runes[i-2]-1
		if up || down {
			return true
		}
	}
	return false
}
