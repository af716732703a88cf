package store

import "context"

// GetImportedFile returns the content hash and certification recorded for a
// definition file path. Both are zero if the file was never imported.
func (s *Store) GetImportedFile(ctx context.Context, path string) (hash string, certID int64, err error) {
	err = s.q.QueryRowContext(ctx,
		`SELECT hash, certification_id FROM imported_files WHERE path = ?`, path,
	).Scan(&hash, &certID)
	if isNoRows(err) {
		return "", 0, nil
	}
	return hash, certID, err
}

// SetImportedFile records the content hash and resulting certification of
// an imported definition file.
func (s *Store) SetImportedFile(ctx context.Context, path, hash string, certID int64) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO imported_files (path, hash, certification_id) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, certification_id = excluded.certification_id`,
		path, hash, certID,
	)
	return err
}
