package pg

import (
	"context"
	"fmt"
	"strings"

	"outreach/internal/domain"
)

// ResolveRecipients translates the filter into a parameterised WHERE clause
// over the tenant's leads. Results are ordered by id so a limit is stable.
func (s *Store) ResolveRecipients(ctx context.Context, tenantID string, f domain.AudienceFilter, limit int) ([]domain.Recipient, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	query, args := recipientQuery(tenantID, f, limit)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &r.Email, &r.Phone, &r.CompanyName,
			&r.City, &r.Country, &r.Status, &r.Priority, &r.Tags); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func recipientQuery(tenantID string, f domain.AudienceFilter, limit int) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, tenant_id, name, email, phone, company_name, city, country, status, priority, tags
		FROM leads WHERE tenant_id = $1`)
	args := []any{tenantID}

	// cond uses %[1]d for the placeholder of v
	add := func(cond string, v any) {
		args = append(args, v)
		sb.WriteString(" AND ")
		sb.WriteString(fmt.Sprintf(cond, len(args)))
	}

	if len(f.Status) > 0 {
		add("status = ANY($%[1]d)", []string(f.Status))
	}
	if len(f.Priority) > 0 {
		add("priority = ANY($%[1]d)", []string(f.Priority))
	}
	if f.City != "" {
		add("lower(city) = lower($%[1]d)", f.City)
	}
	if f.Country != "" {
		add("lower(country) = lower($%[1]d)", f.Country)
	}
	if f.HasEmail != nil {
		if *f.HasEmail {
			sb.WriteString(" AND btrim(email) <> ''")
		} else {
			sb.WriteString(" AND btrim(email) = ''")
		}
	}
	if f.HasPhone != nil {
		if *f.HasPhone {
			sb.WriteString(" AND btrim(phone) <> ''")
		} else {
			sb.WriteString(" AND btrim(phone) = ''")
		}
	}
	if len(f.Tags) > 0 {
		switch f.TagMode {
		case domain.TagMatchAny:
			add("tags && $%[1]d", f.Tags)
		case domain.TagMatchAll:
			add("tags @> $%[1]d", f.Tags)
		case domain.TagMatchExact:
			add("(tags @> $%[1]d AND tags <@ $%[1]d)", f.Tags)
		}
	}

	sb.WriteString(" ORDER BY id")
	if limit > 0 {
		args = append(args, limit)
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}
	return sb.String(), args
}

// InsertRecipient is used by seeding and tests; lead CRUD lives elsewhere.
func (s *Store) InsertRecipient(ctx context.Context, r domain.Recipient) error {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO leads (id, tenant_id, name, email, phone, company_name, city, country, status, priority, tags)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, r.ID, r.TenantID, r.Name, r.Email, r.Phone, r.CompanyName, r.City, r.Country, r.Status, r.Priority, tags)
	return err
}
