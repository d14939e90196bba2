package graph

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Londondannyboy/quest-sub003/pkg/models"
	"github.com/Londondannyboy/quest-sub003/pkg/tracing"
)

var kindLabels = map[models.EntityKind]string{
	models.KindCompany:     "Company",
	models.KindSkill:       "Skill",
	models.KindInstitution: "Institution",
}

// writeError classifies a failed graph write. Driver connectivity failures
// surface as ErrInfrastructure so the run aborts instead of completing
// against a graph it never reached.
func writeError(err error, msg string) error {
	if neo4j.IsConnectivityError(err) {
		return fmt.Errorf("%w: %s: %v", models.ErrInfrastructure, msg, err)
	}
	return httperror.NewHTTPError(http.StatusInternalServerError, msg)
}

// Store writes canonical state into the graph. Nodes are merged by id;
// relationship sets are recomputed wholesale on every pass so a company
// merge or a skill change never leaves stale edges behind.
type Store struct {
	client *Client
	logger ectologger.Logger
}

// NewStore creates a new graph store
func NewStore(client *Client, logger ectologger.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
	}
}

// SyncEntity merges the node for a canonical company, skill or institution.
func (s *Store) SyncEntity(ctx context.Context, entity *models.CanonicalEntity) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.SyncEntity")
	defer span.End()

	label, ok := kindLabels[entity.Kind]
	if !ok {
		return httperror.NewHTTPError(http.StatusBadRequest, "kind has no graph label")
	}

	cypher := `
		MERGE (n:` + label + ` {id: $id})
		SET n.name = $name,
			n.status = $status,
			n.confidence = $confidence,
			n.updated_at = $updated_at
	`
	params := map[string]any{
		"id":         entity.ID.String(),
		"name":       entity.Name,
		"status":     string(entity.Status),
		"confidence": entity.Confidence,
		"updated_at": entity.UpdatedAt.UTC().Format(time.RFC3339),
	}

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, cypher, params)
		return nil, err
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_id": entity.ID}).Error("Failed to sync entity node")
		return writeError(err, "failed to sync entity node")
	}
	return nil
}

// RemoveEntity detaches and deletes the node for an entity. Used when a
// row becomes an alias after a merge.
func (s *Store) RemoveEntity(ctx context.Context, kind models.EntityKind, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.RemoveEntity")
	defer span.End()

	label, ok := kindLabels[kind]
	if !ok {
		return httperror.NewHTTPError(http.StatusBadRequest, "kind has no graph label")
	}

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, "MATCH (n:"+label+" {id: $id}) DETACH DELETE n", map[string]any{"id": id.String()})
		return nil, err
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_id": id}).Error("Failed to remove entity node")
		return writeError(err, "failed to remove entity node")
	}
	return nil
}

// SyncColleague merges the colleague node and recomputes its WORKS_AT edge.
func (s *Store) SyncColleague(ctx context.Context, colleague *models.Colleague) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.SyncColleague")
	defer span.End()

	params := map[string]any{
		"id":            colleague.ID.String(),
		"owner_user_id": colleague.OwnerUserID,
		"name":          colleague.Name,
		"linkedin_url":  colleague.LinkedinURL,
		"is_quest_user": colleague.IsQuestUser,
		"updated_at":    colleague.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if colleague.Title != nil {
		params["title"] = *colleague.Title
	} else {
		params["title"] = ""
	}

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (p:Colleague {id: $id})
			SET p.owner_user_id = $owner_user_id,
				p.name = $name,
				p.title = $title,
				p.linkedin_url = $linkedin_url,
				p.is_quest_user = $is_quest_user,
				p.updated_at = $updated_at
			WITH p
			OPTIONAL MATCH (p)-[r:WORKS_AT]->()
			DELETE r
		`, params)
		if err != nil {
			return nil, err
		}

		if colleague.CompanyID == nil {
			return nil, nil
		}
		_, err = tx.Run(ctx, `
			MATCH (p:Colleague {id: $id})
			MERGE (c:Company {id: $company_id})
			MERGE (p)-[:WORKS_AT]->(c)
		`, map[string]any{
			"id":         colleague.ID.String(),
			"company_id": colleague.CompanyID.String(),
		})
		return nil, err
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"colleague_id": colleague.ID}).Error("Failed to sync colleague node")
		return writeError(err, "failed to sync colleague node")
	}
	return nil
}

// SyncJob merges the job node and recomputes its POSTED_BY and
// REQUIRES_SKILL edges from the given skill entity ids.
func (s *Store) SyncJob(ctx context.Context, posting *models.JobPosting, skillIDs []uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.SyncJob")
	defer span.End()

	params := map[string]any{
		"id":                    posting.ID.String(),
		"posting_url":           posting.PostingURL,
		"title":                 posting.Title,
		"classification_status": string(posting.ClassificationStatus),
		"updated_at":            posting.UpdatedAt.UTC().Format(time.RFC3339),
	}

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (j:Job {id: $id})
			SET j.posting_url = $posting_url,
				j.title = $title,
				j.classification_status = $classification_status,
				j.updated_at = $updated_at
			WITH j
			OPTIONAL MATCH (j)-[r]->()
			DELETE r
		`, params)
		if err != nil {
			return nil, err
		}

		if posting.CompanyID != nil {
			_, err = tx.Run(ctx, `
				MATCH (j:Job {id: $id})
				MERGE (c:Company {id: $company_id})
				MERGE (j)-[:POSTED_BY]->(c)
			`, map[string]any{
				"id":         posting.ID.String(),
				"company_id": posting.CompanyID.String(),
			})
			if err != nil {
				return nil, err
			}
		}

		for _, skillID := range skillIDs {
			_, err = tx.Run(ctx, `
				MATCH (j:Job {id: $id})
				MERGE (s:Skill {id: $skill_id})
				MERGE (j)-[:REQUIRES_SKILL]->(s)
			`, map[string]any{
				"id":       posting.ID.String(),
				"skill_id": skillID.String(),
			})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"posting_id": posting.ID}).Error("Failed to sync job node")
		return writeError(err, "failed to sync job node")
	}
	return nil
}

// AddEpisode merges a rendered narrative episode. The episode id is the
// content fingerprint, so re-adding identical content is a no-op and the
// graph never accumulates duplicate episodes.
func (s *Store) AddEpisode(ctx context.Context, episode *models.Episode) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.AddEpisode")
	defer span.End()

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (e:Episode {id: $id})
			ON CREATE SET e.subject_id = $subject_id,
				e.subject_kind = $subject_kind,
				e.body = $body,
				e.rendered_at = $rendered_at
		`, map[string]any{
			"id":           episode.ID,
			"subject_id":   episode.SubjectID.String(),
			"subject_kind": episode.SubjectKind,
			"body":         episode.Body,
			"rendered_at":  episode.RenderedAt.UTC().Format(time.RFC3339),
		})
		return nil, err
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"episode_id": episode.ID}).Error("Failed to add episode")
		return writeError(err, "failed to add episode")
	}
	return nil
}
