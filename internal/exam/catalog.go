package exam

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pavelanni/certifier/internal/model"
	"github.com/pavelanni/certifier/internal/store"
)

// ListCertifications returns the latest version of every certification.
func (s *Service) ListCertifications(ctx context.Context) ([]model.Certification, error) {
	certs, err := s.store.ListCertifications(ctx)
	if err != nil {
		return nil, fmt.Errorf("list certifications: %w", err)
	}
	return certs, nil
}

// GetCertificationView returns a certification with its questions, answer
// keys removed.
func (s *Service) GetCertificationView(ctx context.Context, certID int64) (model.CertificationView, error) {
	cert, err := s.certification(ctx, s.store, certID)
	if err != nil {
		return model.CertificationView{}, err
	}
	questions, err := s.store.ListQuestions(ctx, certID)
	if err != nil {
		return model.CertificationView{}, fmt.Errorf("list questions: %w", err)
	}
	for i := range questions {
		questions[i] = questions[i].Public()
	}
	return model.CertificationView{Certification: cert, Questions: questions}, nil
}

// ParseDefinition decodes and validates a certification definition.
func ParseDefinition(data []byte) (model.CertificationDefinition, error) {
	var def model.CertificationDefinition
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return def, fmt.Errorf("%w: %w", ErrMalformedDefinition, err)
	}
	if err := def.Validate(); err != nil {
		return def, err
	}
	return def, nil
}

// ImportDefinition stores the definition read from source unless source was
// already imported with identical content. A changed definition becomes a
// new version of the certification. It reports whether anything was stored.
func (s *Service) ImportDefinition(ctx context.Context, source string, data []byte) (model.Certification, bool, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	var (
		cert    model.Certification
		created bool
	)
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		prevHash, prevID, err := tx.GetImportedFile(ctx, source)
		if err != nil {
			return fmt.Errorf("get import record: %w", err)
		}
		if prevHash == hash {
			cert, err = s.certification(ctx, tx, prevID)
			return err
		}

		def, err := ParseDefinition(data)
		if err != nil {
			return err
		}
		if cert, err = tx.InsertCertification(ctx, def); err != nil {
			return fmt.Errorf("insert certification: %w", err)
		}
		created = true
		return tx.SetImportedFile(ctx, source, hash, cert.ID)
	})
	if err != nil {
		return model.Certification{}, false, err
	}
	if created {
		slog.Info("imported certification", "source", source, "code", cert.Code, "version", cert.Version, "id", cert.ID)
	} else {
		slog.Debug("certification unchanged, skipping", "source", source, "code", cert.Code)
	}
	return cert, created, nil
}
