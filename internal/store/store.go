package store

// Store groups all entity repositories over a single Postgres handle. It is
// the "Store" collaborator of spec.md §2 — out of scope to design the
// relational engine itself, but the transactional contract (serializable
// multi-statement transactions, conditional row updates) lives here.
type Store struct {
	db *DB
}

// New wraps an open DB in a Store.
func New(db *DB) *Store { return &Store{db: db} }

// DB exposes the underlying handle for components (migrations, health
// checks) that need it directly.
func (s *Store) DB() *DB { return s.db }
