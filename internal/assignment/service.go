// Package assignment selects the sales agent for a new lead.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	agentrepo "leadflow_backend/internal/agents/repository"
	leadrepo "leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/logger"
)

// ErrNoEligibleAgent signals that no agent can receive the lead. Callers
// fall back to the generic scheduling flow instead of failing the lead.
var ErrNoEligibleAgent = errors.New("no eligible agent available")

type AgentSource interface {
	ListEligibleWithLoad(ctx context.Context, requireSchedulingLink bool) ([]agentrepo.AgentLoad, error)
	GetByID(ctx context.Context, id uuid.UUID) (agentrepo.Agent, error)
}

type LeadStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (leadrepo.Lead, error)
	AssignAgent(ctx context.Context, leadID, agentID uuid.UUID) (bool, error)
}

// Result reports the outcome of an assignment attempt.
type Result struct {
	Agent           agentrepo.Agent
	AlreadyAssigned bool
}

type Service struct {
	agents                AgentSource
	leads                 LeadStore
	requireSchedulingLink bool
	log                   *logger.Logger
}

func NewService(agents AgentSource, leads LeadStore, requireSchedulingLink bool, log *logger.Logger) *Service {
	return &Service{
		agents:                agents,
		leads:                 leads,
		requireSchedulingLink: requireSchedulingLink,
		log:                   log,
	}
}

// Assign binds the lead to the least loaded eligible agent. Ties break
// on agent name, so repeated runs over the same snapshot pick the same
// agent. The claim is a conditional update; if another process assigned
// the lead first, the existing assignment wins and is returned.
func (s *Service) Assign(ctx context.Context, leadID uuid.UUID) (Result, error) {
	lead, err := s.leads.GetByID(ctx, leadID)
	if err != nil {
		return Result{}, fmt.Errorf("load lead: %w", err)
	}
	if lead.AssignedAgentID != nil {
		return s.existingAssignment(ctx, *lead.AssignedAgentID)
	}

	candidates, err := s.agents.ListEligibleWithLoad(ctx, s.requireSchedulingLink)
	if err != nil {
		return Result{}, fmt.Errorf("list eligible agents: %w", err)
	}
	if len(candidates) == 0 {
		return Result{}, ErrNoEligibleAgent
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ActiveLeads != candidates[j].ActiveLeads {
			return candidates[i].ActiveLeads < candidates[j].ActiveLeads
		}
		return candidates[i].Agent.Name < candidates[j].Agent.Name
	})
	chosen := candidates[0].Agent

	claimed, err := s.leads.AssignAgent(ctx, leadID, chosen.ID)
	if err != nil {
		return Result{}, fmt.Errorf("assign agent: %w", err)
	}
	if !claimed {
		// Lost the race. Surface whoever won.
		lead, err = s.leads.GetByID(ctx, leadID)
		if err != nil {
			return Result{}, fmt.Errorf("reload lead: %w", err)
		}
		if lead.AssignedAgentID == nil {
			return Result{}, fmt.Errorf("lead %s not assignable in status %s", leadID, lead.Status)
		}
		return s.existingAssignment(ctx, *lead.AssignedAgentID)
	}

	s.log.Info("lead assigned",
		"lead_id", leadID,
		"agent_id", chosen.ID,
		"agent_name", chosen.Name,
		"active_leads", candidates[0].ActiveLeads,
	)
	return Result{Agent: chosen}, nil
}

func (s *Service) existingAssignment(ctx context.Context, agentID uuid.UUID) (Result, error) {
	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return Result{}, fmt.Errorf("load assigned agent: %w", err)
	}
	return Result{Agent: agent, AlreadyAssigned: true}, nil
}
