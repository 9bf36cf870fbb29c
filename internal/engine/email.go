package engine

import (
	"context"
	"fmt"
	"strings"

	"doran/internal/domain"
	"doran/internal/textnorm"
)

var emailKeywords = []string{"email", "contact", "mail", "reach", "address", "send", "message"}

const registrar = "registrar"

// wantsEmail reports whether the message should try the email directory first.
// Keywords are checked against the raw tokens and the normalised ones; a
// mention of the registrar also qualifies.
func (e *Engine) wantsEmail(raw map[string]struct{}, message string) bool {
	if _, ok := raw[registrar]; ok {
		return true
	}
	normalized := make(map[string]struct{})
	for _, t := range e.norm.Tokens(message) {
		normalized[t] = struct{}{}
	}
	for _, k := range emailKeywords {
		if _, ok := raw[k]; ok {
			return true
		}
		if _, ok := normalized[textnorm.Lemmatize(k)]; ok {
			return true
		}
	}
	return false
}

// emailAnswer looks the message up in the email directory. It reports false
// when the message is not an email query or nothing in the directory matches.
func (e *Engine) emailAnswer(ctx context.Context, message string) (string, bool) {
	raw := textnorm.TokenSet(message)
	if !e.wantsEmail(raw, message) {
		return "", false
	}
	entries, err := e.emails.ListEmails(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to load email directory")
		return "", false
	}
	if len(entries) == 0 {
		return "", false
	}

	_, hasRegistrar := raw[registrar]
	if _, hasData := raw["data"]; hasRegistrar && hasData {
		return directoryList("Here is the full email directory:", entries), true
	}
	if hasRegistrar {
		for _, en := range entries {
			if strings.Contains(strings.ToLower(en.School), registrar) {
				return en.Email, true
			}
		}
		return "", false
	}

	terms := schoolTerms(raw)
	if len(terms) == 0 {
		return "", false
	}
	var matches []domain.EmailEntry
	for _, en := range entries {
		school := strings.ToLower(en.School)
		for _, t := range terms {
			if strings.Contains(school, t) {
				matches = append(matches, en)
				break
			}
		}
	}
	if len(matches) == 0 {
		return "", false
	}
	return directoryList("Here are the relevant email contacts:", matches), true
}

// schoolTerms keeps the tokens worth matching against school names: no
// stopwords, no email keywords and nothing shorter than three characters.
func schoolTerms(raw map[string]struct{}) []string {
	var out []string
	for t := range raw {
		if len([]rune(t)) <= 2 || textnorm.IsStopword(t) || isEmailKeyword(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isEmailKeyword(t string) bool {
	for _, k := range emailKeywords {
		if t == k {
			return true
		}
	}
	return false
}

func directoryList(header string, entries []domain.EmailEntry) string {
	var b strings.Builder
	b.WriteString(header)
	for _, en := range entries {
		school := en.School
		if strings.EqualFold(school, registrar) {
			school = "Registrar"
		}
		fmt.Fprintf(&b, "\n- %s: %s", school, en.Email)
	}
	return b.String()
}
