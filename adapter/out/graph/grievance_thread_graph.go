// Package graph projects grievance threads into Neo4j.
package graph

import (
	"context"
	"fmt"

	"grievance_server/core/domain"
	"grievance_server/core/port/out"
	"grievance_server/pkg/metrics"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// NewDriver creates a Neo4j driver and verifies connectivity.
func NewDriver(ctx context.Context, url, username, password string) (neo4j.DriverWithContext, error) {
	auth := neo4j.NoAuth()
	if username != "" && password != "" {
		auth = neo4j.BasicAuth(username, password, "")
	}

	driver, err := neo4j.NewDriverWithContext(url, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	return driver, nil
}

// =============================================================================
// Thread Graph Adapter
// =============================================================================

var _ out.ThreadGraphStore = (*ThreadGraphAdapter)(nil)

// ThreadGraphAdapter stores one :GrievanceEmail node per record and a
// :FOLLOWED_BY edge from each thread parent to its follow-up.
type ThreadGraphAdapter struct {
	driver neo4j.DriverWithContext
	dbName string
}

func NewThreadGraphAdapter(driver neo4j.DriverWithContext, dbName string) *ThreadGraphAdapter {
	return &ThreadGraphAdapter{driver: driver, dbName: dbName}
}

// EnsureIndexes creates the uniqueness constraint on email_id.
func (a *ThreadGraphAdapter) EnsureIndexes(ctx context.Context) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	queries := []string{
		`CREATE CONSTRAINT grievance_email_id IF NOT EXISTS FOR (e:GrievanceEmail) REQUIRE e.email_id IS UNIQUE`,
		`CREATE INDEX grievance_email_sender IF NOT EXISTS FOR (e:GrievanceEmail) ON (e.sender)`,
	}
	for _, query := range queries {
		if _, err := session.Run(ctx, query, nil); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

const upsertQuery = `
	UNWIND $rows AS row
	MERGE (e:GrievanceEmail {email_id: row.email_id})
	SET e.seq = row.seq,
		e.sender = row.sender,
		e.subject = row.subject,
		e.category = row.category,
		e.mail_type = row.mail_type,
		e.followup_count = row.followup_count,
		e.thread_layer = row.thread_layer
	WITH e, row
	WHERE row.parent_id <> ''
	MERGE (p:GrievanceEmail {email_id: row.parent_id})
	MERGE (p)-[:FOLLOWED_BY]->(e)
`

// UpsertEmail projects one record. Records without an email_id have no
// identity in the graph and are skipped.
func (a *ThreadGraphAdapter) UpsertEmail(ctx context.Context, email *domain.GrievanceEmail) error {
	rows := graphRows([]*domain.GrievanceEmail{email})
	if len(rows) == 0 {
		return nil
	}

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	_, err := session.Run(ctx, upsertQuery, map[string]any{"rows": rows})
	metrics.StorageOps.WithLabelValues("neo4j", "upsert", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("failed to upsert thread node: %w", err)
	}
	return nil
}

// Rebuild replaces the whole projection in one write transaction.
func (a *ThreadGraphAdapter) Rebuild(ctx context.Context, emails []*domain.GrievanceEmail) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	rows := graphRows(emails)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `MATCH (e:GrievanceEmail) DETACH DELETE e`, nil); err != nil {
			return nil, err
		}
		// Rows are in Seq order, so a parent node always exists before its
		// edge is merged.
		const chunk = 500
		for start := 0; start < len(rows); start += chunk {
			end := min(start+chunk, len(rows))
			if _, err := tx.Run(ctx, upsertQuery, map[string]any{"rows": rows[start:end]}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	metrics.StorageOps.WithLabelValues("neo4j", "rebuild", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("failed to rebuild thread graph: %w", err)
	}
	return nil
}

// Thread returns the email_ids of every record in the same thread tree as
// emailID, from its root down.
func (a *ThreadGraphAdapter) Thread(ctx context.Context, emailID string) ([]string, error) {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: a.dbName,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	query := `
		MATCH (e:GrievanceEmail {email_id: $emailID})
		OPTIONAL MATCH (r:GrievanceEmail)-[:FOLLOWED_BY*1..]->(e)
		WHERE NOT (:GrievanceEmail)-[:FOLLOWED_BY]->(r)
		WITH coalesce(r, e) AS root
		LIMIT 1
		MATCH (root)-[:FOLLOWED_BY*0..]->(m:GrievanceEmail)
		RETURN DISTINCT m.email_id AS email_id, m.seq AS seq
		ORDER BY seq
	`

	result, err := session.Run(ctx, query, map[string]any{"emailID": emailID})
	if err != nil {
		return nil, fmt.Errorf("failed to query thread: %w", err)
	}

	var ids []string
	for result.Next(ctx) {
		if id, ok := result.Record().Get("email_id"); ok {
			if s, ok := id.(string); ok {
				ids = append(ids, s)
			}
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read thread: %w", err)
	}
	return ids, nil
}

func graphRows(emails []*domain.GrievanceEmail) []map[string]any {
	rows := make([]map[string]any, 0, len(emails))
	for _, e := range emails {
		if e == nil || e.EmailID == "" {
			continue
		}
		rows = append(rows, map[string]any{
			"email_id":       e.EmailID,
			"seq":            e.Seq,
			"sender":         domain.NormalizeSender(e.Sender),
			"subject":        e.Subject,
			"category":       string(e.Category),
			"mail_type":      string(e.MailType),
			"followup_count": e.FollowupCount,
			"thread_layer":   string(e.ThreadLayer),
			"parent_id":      e.ThreadParentID,
		})
	}
	return rows
}
