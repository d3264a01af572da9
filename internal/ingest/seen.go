package ingest

// SeenStore remembers which remote file ids have already been reported as new.
// Implementations may evict old ids once full; an evicted id can be reported
// again, which the sync engine tolerates.
type SeenStore interface {
	Has(id string) (bool, error)
	Add(ids ...string) error
	Remove(ids ...string) error
	Reset() error
	Len() (int, error)
	Close() error
}
