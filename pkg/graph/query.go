package graph

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Londondannyboy/quest-sub003/pkg/tracing"
)

// ColleagueNode is a colleague as read back from the graph.
type ColleagueNode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	IsQuestUser bool   `json:"is_quest_user"`
}

// JobNode is a job posting as read back from the graph.
type JobNode struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	PostingURL string `json:"posting_url"`
}

// CompanyColleagues returns the colleagues with a WORKS_AT edge to the
// company.
func (s *Store) CompanyColleagues(ctx context.Context, companyID uuid.UUID) ([]ColleagueNode, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.CompanyColleagues")
	defer span.End()

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (p:Colleague)-[:WORKS_AT]->(c:Company {id: $company_id})
			RETURN p.id AS id, p.name AS name, p.title AS title, p.is_quest_user AS is_quest_user
			ORDER BY p.name
		`, map[string]any{"company_id": companyID.String()})
		if err != nil {
			return nil, err
		}

		var nodes []ColleagueNode
		for res.Next(ctx) {
			rec := res.Record()
			nodes = append(nodes, ColleagueNode{
				ID:          stringValue(rec, "id"),
				Name:        stringValue(rec, "name"),
				Title:       stringValue(rec, "title"),
				IsQuestUser: boolValue(rec, "is_quest_user"),
			})
		}
		return nodes, res.Err()
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"company_id": companyID}).Error("Failed to query company colleagues")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to query colleagues")
	}

	nodes, _ := result.([]ColleagueNode)
	return nodes, nil
}

// SkillJobs returns the jobs with a REQUIRES_SKILL edge to the skill.
func (s *Store) SkillJobs(ctx context.Context, skillID uuid.UUID) ([]JobNode, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.SkillJobs")
	defer span.End()

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (j:Job)-[:REQUIRES_SKILL]->(s:Skill {id: $skill_id})
			RETURN j.id AS id, j.title AS title, j.posting_url AS posting_url
			ORDER BY j.title
		`, map[string]any{"skill_id": skillID.String()})
		if err != nil {
			return nil, err
		}

		var nodes []JobNode
		for res.Next(ctx) {
			rec := res.Record()
			nodes = append(nodes, JobNode{
				ID:         stringValue(rec, "id"),
				Title:      stringValue(rec, "title"),
				PostingURL: stringValue(rec, "posting_url"),
			})
		}
		return nodes, res.Err()
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"skill_id": skillID}).Error("Failed to query skill jobs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to query jobs")
	}

	nodes, _ := result.([]JobNode)
	return nodes, nil
}

// CompanyJobs returns the jobs with a POSTED_BY edge to the company.
func (s *Store) CompanyJobs(ctx context.Context, companyID uuid.UUID) ([]JobNode, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.CompanyJobs")
	defer span.End()

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (j:Job)-[:POSTED_BY]->(c:Company {id: $company_id})
			RETURN j.id AS id, j.title AS title, j.posting_url AS posting_url
			ORDER BY j.title
		`, map[string]any{"company_id": companyID.String()})
		if err != nil {
			return nil, err
		}

		var nodes []JobNode
		for res.Next(ctx) {
			rec := res.Record()
			nodes = append(nodes, JobNode{
				ID:         stringValue(rec, "id"),
				Title:      stringValue(rec, "title"),
				PostingURL: stringValue(rec, "posting_url"),
			})
		}
		return nodes, res.Err()
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"company_id": companyID}).Error("Failed to query company jobs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to query jobs")
	}

	nodes, _ := result.([]JobNode)
	return nodes, nil
}

func stringValue(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func boolValue(rec *neo4j.Record, key string) bool {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return false
	}
	b, _ := v.(bool)
	return b
}
