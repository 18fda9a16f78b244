package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/watchpost/internal/detector"
)

// Sighting is a confirmed detection archived in the database.
type Sighting struct {
	ID        string             `json:"id"`
	Detection detector.Detection `json:"detection"`
	CreatedAt time.Time          `json:"created_at"`
}

// SightingRepository stores confirmed detections.
type SightingRepository struct {
	db *sql.DB
}

// Sightings returns the sighting repository for this store.
func (s *Store) Sightings() *SightingRepository {
	return &SightingRepository{db: s.db}
}

// CreateBatch inserts one sighting per detection in a single transaction and
// returns them with their generated ids.
func (r *SightingRepository) CreateBatch(dets []detector.Detection) ([]Sighting, error) {
	if len(dets) == 0 {
		return nil, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO sightings (id, class, confidence, track_id, x1, y1, x2, y2, thumbnail, detected_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	now := time.Now()
	out := make([]Sighting, 0, len(dets))
	for _, d := range dets {
		sg := Sighting{ID: uuid.NewString(), Detection: d.Clone(), CreatedAt: now}

		var trackID sql.NullInt64
		if d.TrackID != nil {
			trackID = sql.NullInt64{Int64: int64(*d.TrackID), Valid: true}
		}
		if _, err := stmt.Exec(sg.ID, d.Class, d.Confidence, trackID,
			d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2, d.Thumbnail,
			d.Timestamp.UnixMilli(), now); err != nil {
			return nil, err
		}
		out = append(out, sg)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

const sightingColumns = `id, class, confidence, track_id, x1, y1, x2, y2, detected_at, created_at`

func scanSighting(row interface{ Scan(...any) error }) (Sighting, error) {
	var sg Sighting
	var trackID sql.NullInt64
	var detectedAt int64
	d := &sg.Detection

	err := row.Scan(&sg.ID, &d.Class, &d.Confidence, &trackID,
		&d.BBox.X1, &d.BBox.Y1, &d.BBox.X2, &d.BBox.Y2, &detectedAt, &sg.CreatedAt)
	if err != nil {
		return sg, err
	}
	if trackID.Valid {
		id := int(trackID.Int64)
		d.TrackID = &id
	}
	d.Timestamp = time.UnixMilli(detectedAt)
	return sg, nil
}

// GetByID retrieves a sighting without its thumbnail.
func (r *SightingRepository) GetByID(id string) (*Sighting, error) {
	sg, err := scanSighting(r.db.QueryRow(
		`SELECT `+sightingColumns+` FROM sightings WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sg, nil
}

// Thumbnail returns the stored JPEG for a sighting. A sighting without a
// thumbnail reports ErrNotFound.
func (r *SightingRepository) Thumbnail(id string) ([]byte, error) {
	var data []byte
	err := r.db.QueryRow(`SELECT thumbnail FROM sightings WHERE id = ?`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}

// ListSince returns sightings detected at or after since, newest first.
// A limit of zero or less returns all of them.
func (r *SightingRepository) ListSince(since time.Time, limit int) ([]Sighting, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT `+sightingColumns+`
		 FROM sightings
		 WHERE detected_at >= ?
		 ORDER BY detected_at DESC, created_at DESC
		 LIMIT ?`,
		since.UnixMilli(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sighting
	for rows.Next() {
		sg, err := scanSighting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountByClassSince returns per-class sighting counts at or after since.
func (r *SightingRepository) CountByClassSince(since time.Time) (map[string]int, error) {
	rows, err := r.db.Query(
		`SELECT class, COUNT(*) FROM sightings WHERE detected_at >= ? GROUP BY class`,
		since.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return nil, err
		}
		counts[class] = n
	}
	return counts, rows.Err()
}

// DeleteBefore removes sightings detected before t and returns how many were
// removed.
func (r *SightingRepository) DeleteBefore(t time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM sightings WHERE detected_at < ?`, t.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteAll empties the archive.
func (r *SightingRepository) DeleteAll() error {
	_, err := r.db.Exec(`DELETE FROM sightings`)
	return err
}
