// Package repository provides data access for sales agents.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("agent not found")

type Agent struct {
	ID             uuid.UUID
	Name           string
	Email          string
	IsActive       bool
	EmailVerified  bool
	SchedulingLink *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AgentLoad pairs an eligible agent with the number of active leads
// currently assigned to them.
type AgentLoad struct {
	Agent       Agent
	ActiveLeads int
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const agentColumns = `a.id, a.name, a.email, a.is_active, a.email_verified,
	a.scheduling_link, a.created_at, a.updated_at`

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Agent, error) {
	var a Agent
	err := r.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents a WHERE a.id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.Email, &a.IsActive, &a.EmailVerified,
		&a.SchedulingLink, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	return a, err
}

const eligibleWithLoadQuery = `
	SELECT ` + agentColumns + `, count(l.id) AS active_leads
	FROM agents a
	LEFT JOIN leads l
		ON l.assigned_agent_id = a.id
		AND l.status <> 'canceled'
	WHERE a.is_active = true
		AND a.email_verified = true
		AND ($1 = false OR a.scheduling_link IS NOT NULL)
	GROUP BY a.id
`

// ListEligibleWithLoad returns every agent that may receive new leads,
// together with their current lead count. Only canceled leads drop out
// of the count. When requireSchedulingLink is set, agents without a
// personal scheduling link are excluded.
func (r *Repository) ListEligibleWithLoad(ctx context.Context, requireSchedulingLink bool) ([]AgentLoad, error) {
	rows, err := r.pool.Query(ctx, eligibleWithLoadQuery, requireSchedulingLink)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentLoad
	for rows.Next() {
		var al AgentLoad
		if err := rows.Scan(
			&al.Agent.ID, &al.Agent.Name, &al.Agent.Email, &al.Agent.IsActive,
			&al.Agent.EmailVerified, &al.Agent.SchedulingLink,
			&al.Agent.CreatedAt, &al.Agent.UpdatedAt, &al.ActiveLeads,
		); err != nil {
			return nil, err
		}
		out = append(out, al)
	}
	return out, rows.Err()
}
