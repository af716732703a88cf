package exam

import (
	"context"
	"fmt"

	"github.com/pavelanni/certifier/internal/model"
)

// VerifyCertificate looks a certificate up by verification code or
// certificate number. Input is trimmed and upper-cased, then matched
// exactly. The holder's name is disclosed only for public certificates.
func (s *Service) VerifyCertificate(ctx context.Context, codeOrNumber string) (model.Verification, error) {
	key := normalizeKey(codeOrNumber)
	if key == "" {
		return model.Verification{}, ErrCertificateNotFound
	}
	c, err := s.store.FindCertificate(ctx, key)
	if err != nil {
		return model.Verification{}, fmt.Errorf("find certificate: %w", err)
	}
	if c == nil {
		return model.Verification{}, fmt.Errorf("certificate %q: %w", key, ErrCertificateNotFound)
	}
	cert, err := s.certification(ctx, s.store, c.CertificationID)
	if err != nil {
		return model.Verification{}, err
	}

	now := s.clock()
	v := model.Verification{
		CertificateNumber: c.CertificateNumber,
		VerificationCode:  c.VerificationCode,
		CertificationName: cert.Name,
		CertificationCode: cert.Code,
		Level:             cert.Level,
		IssuedAt:          c.IssuedAt,
		ExpiresAt:         c.ExpiresAt,
		Status:            c.StatusAt(now, s.expiryWarning),
		DaysRemaining:     c.DaysRemainingAt(now),
	}
	if c.IsPublic {
		u, err := s.store.GetUserByID(ctx, c.UserID)
		if err != nil {
			return model.Verification{}, fmt.Errorf("get holder: %w", err)
		}
		if u != nil {
			v.HolderName = u.DisplayName
			if v.HolderName == "" {
				v.HolderName = u.Username
			}
		}
	}
	return v, nil
}

// ToggleCertificateVisibility flips whether the holder's name is shown on
// verification. Certificates of other users are reported as not found.
func (s *Service) ToggleCertificateVisibility(ctx context.Context, userID, certificateID int64) (model.Certificate, error) {
	ok, err := s.store.ToggleCertificatePublic(ctx, certificateID, userID)
	if err != nil {
		return model.Certificate{}, fmt.Errorf("toggle visibility: %w", err)
	}
	if !ok {
		return model.Certificate{}, fmt.Errorf("certificate %d: %w", certificateID, ErrCertificateNotFound)
	}
	c, err := s.store.GetCertificate(ctx, certificateID)
	if err != nil {
		return model.Certificate{}, fmt.Errorf("get certificate: %w", err)
	}
	if c == nil {
		return model.Certificate{}, fmt.Errorf("certificate %d: %w", certificateID, ErrCertificateNotFound)
	}
	return *c, nil
}

// ListCertificates returns the user's certificates with their current status.
func (s *Service) ListCertificates(ctx context.Context, userID int64) ([]model.CertificateView, error) {
	certs, err := s.store.ListCertificatesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	now := s.clock()
	names := make(map[int64]string)
	views := make([]model.CertificateView, 0, len(certs))
	for _, c := range certs {
		name, ok := names[c.CertificationID]
		if !ok {
			cert, err := s.certification(ctx, s.store, c.CertificationID)
			if err != nil {
				return nil, err
			}
			name = cert.Name
			names[c.CertificationID] = name
		}
		views = append(views, model.CertificateView{
			Certificate:       c,
			CertificationName: name,
			Status:            c.StatusAt(now, s.expiryWarning),
		})
	}
	return views, nil
}
