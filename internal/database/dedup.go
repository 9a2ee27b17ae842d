package database

import "fmt"

// DedupEntry maps a previously processed item's identity keys to its id.
type DedupEntry struct {
	ItemID          string
	ExternalID      *string
	NormalizedTitle string
}

// GetDedupEntries returns the full persisted dedup index.
func (db *DB) GetDedupEntries() ([]DedupEntry, error) {
	rows, err := db.conn.Query(
		"SELECT item_id, external_id, normalized_title FROM dedup_index",
	)
	if err != nil {
		return nil, fmt.Errorf("querying dedup index: %w", err)
	}
	defer rows.Close()

	var entries []DedupEntry
	for rows.Next() {
		var e DedupEntry
		if err := rows.Scan(&e.ItemID, &e.ExternalID, &e.NormalizedTitle); err != nil {
			return nil, fmt.Errorf("scanning dedup entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InsertDedupEntries appends entries to the persisted index. An item id
// already present is left untouched.
func (db *DB) InsertDedupEntries(entries []DedupEntry) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin dedup insert: %w", err)
	}

	for _, e := range entries {
		_, err := tx.Exec(
			`INSERT INTO dedup_index (item_id, external_id, normalized_title)
			 VALUES (?, ?, ?)
			 ON CONFLICT(item_id) DO NOTHING`,
			e.ItemID, e.ExternalID, e.NormalizedTitle,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting dedup entry %s: %w", e.ItemID, err)
		}
	}

	return tx.Commit()
}

// CountDedupEntries returns the number of items in the dedup index.
func (db *DB) CountDedupEntries() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM dedup_index").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting dedup entries: %w", err)
	}
	return count, nil
}
