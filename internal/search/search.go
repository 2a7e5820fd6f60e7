package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultClient ResultType = "client"
	ResultNote   ResultType = "note"
	ResultDeal   ResultType = "deal"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	ClientID string     `json:"clientId"`
	Stage    string     `json:"stage,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterClientID string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexClient(c ClientRecord) error
	IndexNote(n NoteRecord) error
	IndexDeal(d DealRecord) error
	DeleteClient(id string) error
	DeleteNote(id string) error
	DeleteDeal(id string) error
}

// ClientRecord is the data we index for a client.
type ClientRecord struct {
	ID          string `json:"id"`
	Company     string `json:"company"`
	ContactName string `json:"contactName"`
	Email       string `json:"email"`
	Status      string `json:"status"`
	OwnerID     string `json:"ownerId"`
}

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	ID       string `json:"id"`
	Body     string `json:"body"`
	ClientID string `json:"clientId"`
	Company  string `json:"company"`
}

// DealRecord is the data we index for a deal.
type DealRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Stage    string `json:"stage"`
	ClientID string `json:"clientId"`
	Company  string `json:"company"`
}
