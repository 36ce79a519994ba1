package notify

import (
	"vigia/internal/database"
)

// Store persists the feed to the local SQLite database.
type Store struct {
	db *database.Database
}

// NewStore wraps the shared database.
func NewStore(db *database.Database) *Store {
	return &Store{db: db}
}

// Save rewrites the persisted feed. Satisfies WriteFunc.
func (s *Store) Save(entries []Notification) error {
	records := make([]database.NotificationRecord, 0, len(entries))
	for i, n := range entries {
		records = append(records, database.NotificationRecord{
			Pos:        i,
			ID:         n.ID,
			Type:       n.Type,
			Message:    n.Message,
			Details:    n.Details,
			Timestamp:  n.Timestamp,
			Read:       n.Read,
			IncidentID: n.IncidentID,
		})
	}
	return s.db.ReplaceNotifications(records)
}

// Load returns the persisted feed in stored order. Retention is re-applied
// by Feed.Rehydrate, not here, so there is a single pruning code path.
func (s *Store) Load() ([]Notification, error) {
	records, err := s.db.ListNotifications()
	if err != nil {
		return nil, err
	}
	entries := make([]Notification, 0, len(records))
	for _, r := range records {
		entries = append(entries, Notification{
			ID:         r.ID,
			Type:       r.Type,
			Message:    r.Message,
			Details:    r.Details,
			Timestamp:  r.Timestamp,
			Read:       r.Read,
			IncidentID: r.IncidentID,
		})
	}
	return entries, nil
}
