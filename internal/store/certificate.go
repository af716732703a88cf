package store

import (
	"context"
	"time"

	"github.com/pavelanni/certifier/internal/model"
)

const certificateColumns = `id, user_id, certification_id, result_id, serial, certificate_number,
	verification_code, issued_at, expires_at, is_public`

func scanCertificate(row rowScanner) (model.Certificate, error) {
	var c model.Certificate
	err := row.Scan(&c.ID, &c.UserID, &c.CertificationID, &c.ResultID, &c.Serial, &c.CertificateNumber,
		&c.VerificationCode, &c.IssuedAt, &c.ExpiresAt, &c.IsPublic)
	return c, err
}

func (s *Store) queryCertificates(ctx context.Context, query string, args ...any) ([]model.Certificate, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var certs []model.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	return certs, rows.Err()
}

// FindLiveCertificate returns a certificate of the user for the
// certification that has not expired at now, or nil.
func (s *Store) FindLiveCertificate(ctx context.Context, userID, certID int64, now time.Time) (*model.Certificate, error) {
	certs, err := s.queryCertificates(ctx,
		`SELECT `+certificateColumns+` FROM certificates
		 WHERE user_id = ? AND certification_id = ? ORDER BY issued_at DESC`, userID, certID)
	if err != nil {
		return nil, err
	}
	for _, c := range certs {
		if c.ExpiresAt == nil || now.Before(*c.ExpiresAt) {
			return &c, nil
		}
	}
	return nil, nil
}

// NextSerial returns the next certificate serial number.
func (s *Store) NextSerial(ctx context.Context) (int64, error) {
	var serial int64
	err := s.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(serial), 0) + 1 FROM certificates`).Scan(&serial)
	return serial, err
}

// InsertCertificate stores a certificate. A clash on serial, certificate
// number or verification code is reported as ErrDuplicate so the caller can
// retry with fresh identifiers.
func (s *Store) InsertCertificate(ctx context.Context, c model.Certificate) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO certificates (user_id, certification_id, result_id, serial, certificate_number,
		 verification_code, issued_at, expires_at, is_public)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.UserID, c.CertificationID, c.ResultID, c.Serial, c.CertificateNumber,
		c.VerificationCode, c.IssuedAt, c.ExpiresAt, c.IsPublic,
	)
	if err != nil {
		return 0, duplicateErr(err)
	}
	return res.LastInsertId()
}

// GetCertificate returns a certificate by ID.
func (s *Store) GetCertificate(ctx context.Context, id int64) (*model.Certificate, error) {
	c, err := scanCertificate(s.q.QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindCertificate looks a certificate up by exact verification code or
// certificate number.
func (s *Store) FindCertificate(ctx context.Context, key string) (*model.Certificate, error) {
	c, err := scanCertificate(s.q.QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM certificates
		 WHERE verification_code = ? OR certificate_number = ?`, key, key))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCertificateByResult returns the certificate linked to a result, or nil.
// The link may point at a certificate first issued for an earlier result.
func (s *Store) GetCertificateByResult(ctx context.Context, resultID int64) (*model.Certificate, error) {
	c, err := scanCertificate(s.q.QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM certificates
		 WHERE id = (SELECT certificate_id FROM results WHERE id = ?)`, resultID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCertificatesForUser returns a user's certificates, newest first.
func (s *Store) ListCertificatesForUser(ctx context.Context, userID int64) ([]model.Certificate, error) {
	return s.queryCertificates(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE user_id = ? ORDER BY issued_at DESC, id DESC`, userID)
}

// ToggleCertificatePublic flips the visibility flag of a certificate owned
// by userID. It reports false when no such certificate exists.
func (s *Store) ToggleCertificatePublic(ctx context.Context, id, userID int64) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE certificates SET is_public = NOT is_public WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
