package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across clients, notes, and deals using
// plainto_tsquery and ts_rank, with ts_headline for snippets. Archived
// clients and their notes and deals never show up.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Clients sub-query
	if q.FilterType == "" || q.FilterType == ResultClient {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'client'::text AS type, c.id, c.company AS title,
				ts_headline('english', coalesce(c.contact_name, '') || ' ' || coalesce(c.email, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.id AS client_id,
				''::text AS stage,
				ts_rank(c.fts, %s) AS rank
			FROM clients c
			WHERE c.archived_at IS NULL AND c.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	// Notes sub-query
	if q.FilterType == "" || q.FilterType == ResultNote {
		noteWhere := "c.archived_at IS NULL AND n.fts @@ " + tsQuery
		if q.FilterClientID != "" {
			noteWhere += fmt.Sprintf(" AND n.client_id = $%d", argN)
			args = append(args, q.FilterClientID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'note'::text AS type, n.id, c.company AS title,
				ts_headline('english', n.body, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				n.client_id,
				''::text AS stage,
				ts_rank(n.fts, %s) AS rank
			FROM notes n
			JOIN clients c ON c.id = n.client_id
			WHERE %s`, tsQuery, tsQuery, noteWhere))
	}

	// Deals sub-query
	if q.FilterType == "" || q.FilterType == ResultDeal {
		dealWhere := "c.archived_at IS NULL AND d.fts @@ " + tsQuery
		if q.FilterClientID != "" {
			dealWhere += fmt.Sprintf(" AND d.client_id = $%d", argN)
			args = append(args, q.FilterClientID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'deal'::text AS type, d.id, d.title,
				ts_headline('english', c.company, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.client_id,
				d.stage,
				ts_rank(d.fts, %s) AS rank
			FROM deals d
			JOIN clients c ON c.id = d.client_id
			WHERE %s`, tsQuery, tsQuery, dealWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, client_id, stage
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ClientID, &r.Stage); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ClientRecord, []NoteRecord, []DealRecord, error) {
	clientRows, err := p.db.QueryContext(ctx, `
		SELECT id, company, coalesce(contact_name, ''), coalesce(email, ''), status, coalesce(owner_id, '')
		FROM clients
		WHERE archived_at IS NULL
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load clients: %w", err)
	}
	defer clientRows.Close()

	clients := make([]ClientRecord, 0)
	for clientRows.Next() {
		var c ClientRecord
		if err := clientRows.Scan(&c.ID, &c.Company, &c.ContactName, &c.Email, &c.Status, &c.OwnerID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := clientRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate clients: %w", err)
	}

	noteRows, err := p.db.QueryContext(ctx, `
		SELECT n.id, n.body, n.client_id, c.company
		FROM notes n
		JOIN clients c ON c.id = n.client_id
		WHERE c.archived_at IS NULL
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load notes: %w", err)
	}
	defer noteRows.Close()

	notes := make([]NoteRecord, 0)
	for noteRows.Next() {
		var n NoteRecord
		if err := noteRows.Scan(&n.ID, &n.Body, &n.ClientID, &n.Company); err != nil {
			return nil, nil, nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := noteRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate notes: %w", err)
	}

	dealRows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.stage, d.client_id, c.company
		FROM deals d
		JOIN clients c ON c.id = d.client_id
		WHERE c.archived_at IS NULL
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load deals: %w", err)
	}
	defer dealRows.Close()

	deals := make([]DealRecord, 0)
	for dealRows.Next() {
		var d DealRecord
		if err := dealRows.Scan(&d.ID, &d.Title, &d.Stage, &d.ClientID, &d.Company); err != nil {
			return nil, nil, nil, fmt.Errorf("scan deal: %w", err)
		}
		deals = append(deals, d)
	}
	if err := dealRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate deals: %w", err)
	}

	return clients, notes, deals, nil
}
