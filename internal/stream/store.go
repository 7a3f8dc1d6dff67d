package stream

// Store is the persistence abstraction for stream state. The Repository
// performs all reads and writes through a Store; implementations can be
// in-memory or SQLite-backed.
type Store interface {
	GetStream(id StreamID) (*StreamState, bool, error)
	SetStream(s *StreamState) error
	ListStreamIDs() ([]StreamID, error)
	Close() error
}

// InMemoryStore is a map-backed Store. It is not safe for concurrent use on
// its own; the Repository serializes access.
type InMemoryStore struct {
	streams map[StreamID]*StreamState
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		streams: make(map[StreamID]*StreamState),
	}
}

// GetStream implements Store.GetStream.
func (s *InMemoryStore) GetStream(id StreamID) (*StreamState, bool, error) {
	st, ok := s.streams[id]
	return st, ok, nil
}

// SetStream implements Store.SetStream.
func (s *InMemoryStore) SetStream(st *StreamState) error {
	s.streams[st.ID] = st
	return nil
}

// ListStreamIDs implements Store.ListStreamIDs.
func (s *InMemoryStore) ListStreamIDs() ([]StreamID, error) {
	ids := make([]StreamID, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	return ids, nil
}

// Close implements Store.Close.
func (s *InMemoryStore) Close() error { return nil }
