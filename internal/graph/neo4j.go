package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Runner executes one Cypher statement and buffers the result.
type Runner interface {
	Run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error)
}

// driverRunner runs statements through neo4j.ExecuteQuery, which manages
// sessions, transactions and retries of transient errors.
type driverRunner struct {
	driver neo4j.DriverWithContext
	dbName string
}

func (r *driverRunner) Run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, r.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(r.dbName),
	)
}

// Neo4jConfig locates a Neo4j database.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jStore is the production graph backend. Every Store call is a single
// auto-commit statement, so a Mutation is atomic without client-side
// transactions.
type Neo4jStore struct {
	runner Runner
	close  func(context.Context) error
}

var _ Store = (*Neo4jStore)(nil)

// OpenNeo4j connects to Neo4j and verifies connectivity.
func OpenNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	s := &Neo4jStore{
		runner: &driverRunner{driver: driver, dbName: cfg.Database},
		close:  driver.Close,
	}
	if err := s.EnsureSchema(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the uniqueness constraints the store relies on for
// idempotent MERGEs under concurrent redelivery.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	for _, st := range compileSchema() {
		if _, err := s.run(ctx, "ensure schema", st); err != nil {
			return err
		}
	}
	return nil
}

// NewNeo4jStore wraps an existing Runner.
func NewNeo4jStore(r Runner) *Neo4jStore {
	return &Neo4jStore{runner: r}
}

// Close releases the driver.
func (s *Neo4jStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close(context.Background())
}

func (s *Neo4jStore) run(ctx context.Context, op string, st statement) ([]*neo4j.Record, error) {
	res, err := s.runner.Run(ctx, st.Text, st.Params)
	if err != nil {
		return nil, queryError(op, err)
	}
	return res.Records, nil
}

// Apply implements Store. No returned row means a required MATCH failed
// and nothing was written.
func (s *Neo4jStore) Apply(ctx context.Context, m Mutation) (bool, error) {
	st, err := compileApply(m)
	if err != nil {
		return false, fmt.Errorf("apply: %w", err)
	}
	recs, err := s.run(ctx, "apply", st)
	if err != nil {
		return false, err
	}
	if len(recs) == 0 {
		return false, ErrNoMatch
	}
	return recordBool(recs[0], "existed"), nil
}

// Relate implements Store.
func (s *Neo4jStore) Relate(ctx context.Context, r Relation) (bool, error) {
	st, err := compileRelate(r)
	if err != nil {
		return false, fmt.Errorf("relate: %w", err)
	}
	recs, err := s.run(ctx, "relate", st)
	if err != nil {
		return false, err
	}
	if len(recs) == 0 {
		return false, ErrNoMatch
	}
	return recordBool(recs[0], "existed"), nil
}

// DeleteNode implements Store.
func (s *Neo4jStore) DeleteNode(ctx context.Context, key NodeKey) (bool, error) {
	st, err := compileDeleteNode(key)
	if err != nil {
		return false, fmt.Errorf("delete node: %w", err)
	}
	recs, err := s.run(ctx, "delete node", st)
	if err != nil {
		return false, err
	}
	return len(recs) > 0 && recordInt(recs[0], "found") > 0, nil
}

// DeleteRelation implements Store.
func (s *Neo4jStore) DeleteRelation(ctx context.Context, ref EdgeRef) (NodeKey, bool, error) {
	st, err := compileDeleteRelation(ref)
	if err != nil {
		return NodeKey{}, false, fmt.Errorf("delete relation: %w", err)
	}
	recs, err := s.run(ctx, "delete relation", st)
	if err != nil {
		return NodeKey{}, false, err
	}
	if len(recs) == 0 {
		return NodeKey{}, false, nil
	}
	return recordKey(recs[0]), true, nil
}

// PutHomeserver implements Store.
func (s *Neo4jStore) PutHomeserver(ctx context.Context, id string) (bool, error) {
	recs, err := s.run(ctx, "put homeserver", compilePutHomeserver(id))
	if err != nil {
		return false, err
	}
	return len(recs) > 0 && recordBool(recs[0], "created"), nil
}

// GetNode implements Store.
func (s *Neo4jStore) GetNode(ctx context.Context, key NodeKey) (Node, bool, error) {
	st, err := compileGetNode(key)
	if err != nil {
		return Node{}, false, fmt.Errorf("get node: %w", err)
	}
	recs, err := s.run(ctx, "get node", st)
	if err != nil {
		return Node{}, false, err
	}
	if len(recs) == 0 {
		return Node{}, false, nil
	}
	return Node{Key: key, Props: recordProps(recs[0])}, true, nil
}

// Exists implements Store.
func (s *Neo4jStore) Exists(ctx context.Context, key NodeKey) (bool, error) {
	st, err := compileExists(key)
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	recs, err := s.run(ctx, "exists", st)
	if err != nil {
		return false, err
	}
	return len(recs) > 0 && recordBool(recs[0], "found"), nil
}

// Neighbors implements Store.
func (s *Neo4jStore) Neighbors(ctx context.Context, key NodeKey, t EdgeType, dir Direction, limit int) ([]Neighbor, error) {
	st, err := compileNeighbors(key, t, dir, limit)
	if err != nil {
		return nil, fmt.Errorf("neighbors: %w", err)
	}
	recs, err := s.run(ctx, "neighbors", st)
	if err != nil {
		return nil, err
	}
	out := make([]Neighbor, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Neighbor{
			Key:           recordKey(rec),
			Props:         recordProps(rec),
			Discriminator: recordString(rec, "discriminator"),
			EdgeID:        recordString(rec, "edge_id"),
			IndexedAt:     recordInt(rec, "indexed_at"),
		})
	}
	return out, nil
}

// StreamEvents implements Store.
func (s *Neo4jStore) StreamEvents(ctx context.Context, f EventFilter) ([]Node, error) {
	recs, err := s.run(ctx, "stream events", compileStreamEvents(f))
	if err != nil {
		return nil, err
	}
	return recordNodes(LabelEvent, recs), nil
}

// StreamCalendars implements Store.
func (s *Neo4jStore) StreamCalendars(ctx context.Context, f CalendarFilter) ([]Node, error) {
	recs, err := s.run(ctx, "stream calendars", compileStreamCalendars(f))
	if err != nil {
		return nil, err
	}
	return recordNodes(LabelCalendar, recs), nil
}

func recordNodes(label Label, recs []*neo4j.Record) []Node {
	out := make([]Node, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Node{
			Key: NodeKey{
				Label:    label,
				AuthorID: recordString(rec, "author"),
				ID:       recordString(rec, "id"),
			},
			Props: recordProps(rec),
		})
	}
	return out
}

func recordKey(rec *neo4j.Record) NodeKey {
	return NodeKey{
		Label:    Label(recordString(rec, "label")),
		AuthorID: recordString(rec, "author"),
		ID:       recordString(rec, "id"),
	}
}

func recordString(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func recordBool(rec *neo4j.Record, key string) bool {
	v, _ := rec.Get(key)
	b, _ := v.(bool)
	return b
}

func recordInt(rec *neo4j.Record, key string) int64 {
	v, _ := rec.Get(key)
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func recordProps(rec *neo4j.Record) Props {
	v, _ := rec.Get("props")
	m, _ := v.(map[string]any)
	return Props(m).normalize()
}
