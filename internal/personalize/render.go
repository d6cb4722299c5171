// Package personalize renders campaign templates for a single recipient.
package personalize

import (
	"regexp"
	"strings"

	"outreach/internal/domain"
)

const (
	DefaultName    = "valued customer"
	DefaultCompany = "your company"
)

// Only this closed token set is substituted; any other {{...}} is left as-is.
var tokenRe = regexp.MustCompile(`(?i)\{\{(nombre|empresa|email|telefono|ciudad|pais)\}\}`)

// Render substitutes recipient fields into tmpl. Token names match
// case-insensitively. The result depends only on tmpl and r.
func Render(tmpl string, r domain.Recipient) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return tokenRe.ReplaceAllStringFunc(tmpl, func(tok string) string {
		name := strings.ToLower(tok[2 : len(tok)-2])
		switch name {
		case "nombre":
			return orDefault(r.Name, DefaultName)
		case "empresa":
			return orDefault(r.CompanyName, DefaultCompany)
		case "email":
			return r.Email
		case "telefono":
			return r.Phone
		case "ciudad":
			return r.City
		case "pais":
			return r.Country
		}
		return tok
	})
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
