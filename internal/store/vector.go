package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// UpsertFactEmbedding inserts or updates a fact embedding in vec_facts.
// Best-effort: callers treat failures as non-fatal.
func (s *Store) UpsertFactEmbedding(id string, embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}
	blob := float32SliceToBlob(embedding)
	_, err := s.db.Conn().Exec(
		`INSERT INTO vec_facts (id, embedding) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET embedding = excluded.embedding`,
		id, blob,
	)
	if err != nil {
		return fmt.Errorf("store: upsert fact embedding: %w", err)
	}
	return nil
}

// SearchFacts finds up to topK facts for userID most similar to the query
// vector. The vec0 table is not user-scoped, so it over-fetches and filters
// by owner. Returns nil when sqlite-vec is unavailable.
func (s *Store) SearchFacts(userID string, query []float32, topK int) ([]Fact, error) {
	if len(query) == 0 || topK <= 0 {
		return nil, nil
	}
	blob := float32SliceToBlob(query)
	rows, err := s.db.Conn().Query(
		`SELECT id, distance FROM vec_facts WHERE embedding MATCH ? AND k = ?
		 ORDER BY distance`,
		blob, topK*4,
	)
	if err != nil {
		// sqlite-vec may not be loaded; degrade gracefully.
		return nil, nil //nolint:nilerr
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		f, err := s.GetFactByID(userID, id)
		if err != nil {
			continue // belongs to another user, or gone
		}
		out = append(out, f)
		if len(out) >= topK {
			break
		}
	}
	return out, rows.Err()
}

// ---- Helpers ----

// float32SliceToBlob serialises a float32 slice to a little-endian byte blob.
// This is the format expected by sqlite-vec's BLOB column input.
func float32SliceToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
