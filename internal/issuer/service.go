package issuer

import (
	"context"
	"errors"
	"log/slog"

	id "facturador/pkg/domain"
	dErrors "facturador/pkg/domain-errors"
	"facturador/pkg/platform/sentinel"
	"facturador/pkg/requestcontext"
)

// Service orchestrates the issuer registry.
type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	NIF       string
	LegalName string
	TradeName string
	Address   string
	PostCode  string
	Town      string
	Province  string
}

// Register adds a new issuer to the registry.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Issuer, error) {
	nif, err := id.ParseIssuerNIF(in.NIF)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid issuer NIF")
	}
	iss, err := NewIssuer(nif, in.LegalName, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	iss.TradeName = in.TradeName
	iss.Address = in.Address
	iss.PostCode = in.PostCode
	iss.Town = in.Town
	iss.Province = in.Province

	if err := s.store.Create(ctx, iss); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Newf(dErrors.CodeConflict, "issuer %s is already registered", nif)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register issuer")
	}
	s.logger.InfoContext(ctx, "issuer registered", "nif", nif, "legal_name", iss.LegalName)
	return iss, nil
}

// Get returns one issuer.
func (s *Service) Get(ctx context.Context, nif id.IssuerNIF) (*Issuer, error) {
	iss, err := s.store.Get(ctx, nif)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "issuer %s is not registered", nif)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load issuer")
	}
	return iss, nil
}

// List returns all registered issuers.
func (s *Service) List(ctx context.Context) ([]*Issuer, error) {
	issuers, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list issuers")
	}
	return issuers, nil
}

// RequireIssuable loads the issuer and checks the issuance boundary. Every
// issuance path calls this before allocating a number.
func (s *Service) RequireIssuable(ctx context.Context, nif id.IssuerNIF) (*Issuer, error) {
	iss, err := s.Get(ctx, nif)
	if err != nil {
		return nil, err
	}
	if err := iss.CanIssue(); err != nil {
		return nil, err
	}
	return iss, nil
}

// LegalName resolves the display name for authority submissions.
func (s *Service) LegalName(ctx context.Context, nif id.IssuerNIF) (string, error) {
	iss, err := s.Get(ctx, nif)
	if err != nil {
		return "", err
	}
	return iss.LegalName, nil
}

// Halt freezes issuance for the issuer, typically after chain verification
// detected a broken link.
func (s *Service) Halt(ctx context.Context, nif id.IssuerNIF, reason string) (*Issuer, error) {
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "halt reason is required")
	}
	now := requestcontext.Now(ctx)
	iss, err := s.store.Execute(ctx, nif,
		func(i *Issuer) error {
			if i.Halted {
				return dErrors.Newf(dErrors.CodeConflict, "issuer %s is already halted", nif)
			}
			return nil
		},
		func(i *Issuer) { i.ApplyHalt(reason, now) })
	if err != nil {
		return nil, wrapExecuteErr(nif, err)
	}
	s.logger.ErrorContext(ctx, "issuer halted", "nif", nif, "reason", reason)
	return iss, nil
}

// Resume lifts a halt after operator review.
func (s *Service) Resume(ctx context.Context, nif id.IssuerNIF) (*Issuer, error) {
	now := requestcontext.Now(ctx)
	iss, err := s.store.Execute(ctx, nif,
		func(i *Issuer) error {
			if !i.Halted {
				return dErrors.Newf(dErrors.CodeConflict, "issuer %s is not halted", nif)
			}
			return nil
		},
		func(i *Issuer) { i.ApplyResume(now) })
	if err != nil {
		return nil, wrapExecuteErr(nif, err)
	}
	s.logger.InfoContext(ctx, "issuer resumed", "nif", nif)
	return iss, nil
}

// Deactivate removes the issuer from service without deleting its fiscal
// history.
func (s *Service) Deactivate(ctx context.Context, nif id.IssuerNIF) (*Issuer, error) {
	now := requestcontext.Now(ctx)
	iss, err := s.store.Execute(ctx, nif,
		func(i *Issuer) error {
			if !i.Active {
				return dErrors.Newf(dErrors.CodeConflict, "issuer %s is already deactivated", nif)
			}
			return nil
		},
		func(i *Issuer) {
			i.Active = false
			i.UpdatedAt = now
		})
	if err != nil {
		return nil, wrapExecuteErr(nif, err)
	}
	s.logger.InfoContext(ctx, "issuer deactivated", "nif", nif)
	return iss, nil
}

func wrapExecuteErr(nif id.IssuerNIF, err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Newf(dErrors.CodeNotFound, "issuer %s is not registered", nif)
	}
	var dErr *dErrors.Error
	if errors.As(err, &dErr) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "issuer update failed")
}
