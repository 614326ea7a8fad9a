package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"issuer/internal/audit"
	"issuer/internal/keys"
	"issuer/internal/storage"
	"issuer/pkg/oautherr"
	"issuer/pkg/platform/sentinel"
)

var (
	tokensIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "issuer_tokens_issued_total",
		Help: "Access tokens issued, labeled by issuance path",
	}, []string{"path"})

	refreshReuseDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "issuer_refresh_reuse_detected_total",
		Help: "Refresh token replays detected outside the reuse grace window",
	})
)

var refreshNamespace = []string{"oauth", "refresh"}

//go:generate mockgen -source=service.go -destination=mocks/mock_invalidator.go -package=mocks Invalidator

// Invalidator revokes everything issued to a subject when refresh-token theft
// is detected. The host application overrides this to also revoke its own
// sessions; the default implementation only clears the refresh-token family.
type Invalidator interface {
	Invalidate(ctx context.Context, subject string) error
}

// InvalidatorFunc adapts a function to the Invalidator interface.
type InvalidatorFunc func(ctx context.Context, subject string) error

func (f InvalidatorFunc) Invalidate(ctx context.Context, subject string) error {
	return f(ctx, subject)
}

// Service issues signed access tokens and manages refresh-token chains.
// It is stateless per call; all shared state lives in the storage façade.
type Service struct {
	store       storage.Store
	keys        *keys.Manager
	issuer      string
	reuseWindow time.Duration
	invalidate  Invalidator
	audit       audit.Publisher
	logger      *slog.Logger
}

// Config bundles Service construction inputs.
type Config struct {
	// Issuer is the iss claim on every access token.
	Issuer string

	// ReuseWindow is how long a redeemed refresh token tolerates benign
	// retries. Zero or negative makes every refresh token strictly
	// single-use.
	ReuseWindow time.Duration

	// Invalidate, when nil, falls back to the storage-backed default.
	Invalidate Invalidator
}

// NewService constructs the token service.
func NewService(cfg Config, store storage.Store, km *keys.Manager, auditor audit.Publisher, logger *slog.Logger) *Service {
	s := &Service{
		store:       store,
		keys:        km,
		issuer:      cfg.Issuer,
		reuseWindow: cfg.ReuseWindow,
		invalidate:  cfg.Invalidate,
		audit:       auditor,
		logger:      logger,
	}
	if s.invalidate == nil {
		s.invalidate = InvalidatorFunc(s.invalidateStored)
	}
	return s
}

// Generate mints a freshly signed access token for v and, unless suppressed,
// a refresh token whose successor is already reserved and persisted inside
// the new record before the pair is returned.
func (s *Service) Generate(ctx context.Context, v Value, opts GenerateOptions) (Tokens, error) {
	access, err := s.signAccessToken(v)
	if err != nil {
		return Tokens{}, err
	}

	out := Tokens{Access: access}
	if opts.SkipRefreshToken {
		tokensIssuedTotal.WithLabelValues("access_only").Inc()
		return out, nil
	}

	tokenValue := v.NextToken
	if tokenValue == "" {
		tokenValue = uuid.NewString()
	}

	record := RefreshRecord{
		Properties: v.Properties,
		ClientID:   v.ClientID,
		Subject:    v.Subject,
		TTL:        v.TTL,
		NextToken:  uuid.NewString(),
	}
	key := refreshKey(v.Subject, tokenValue)
	if err := storage.SetJSON(ctx, s.store, key, record, v.TTL.Refresh); err != nil {
		return Tokens{}, fmt.Errorf("persist refresh record: %w", err)
	}

	out.Refresh = v.Subject + ":" + tokenValue
	tokensIssuedTotal.WithLabelValues("full").Inc()
	return out, nil
}

// Refresh redeems an opaque "{subject}:{token}" refresh token and runs the
// reuse-detection state machine:
//
//   - unknown token: invalid_grant
//   - reuse window <= 0: strict single use, record deleted on redemption
//   - first redemption: stamp timeUsed and rotate onto the reserved successor
//   - retry within the window: return the already-issued successor pairing
//     without rotating further
//   - replay past the window: invalidate the whole subject and reject
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	subject, tokenValue, ok := splitRefreshToken(refreshToken)
	if !ok {
		return Tokens{}, oautherr.New(oautherr.CodeInvalidGrant, "invalid refresh token")
	}

	key := refreshKey(subject, tokenValue)
	record, err := storage.GetJSON[RefreshRecord](ctx, s.store, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Tokens{}, oautherr.New(oautherr.CodeInvalidGrant, "refresh token used or expired")
	}
	if err != nil {
		return Tokens{}, fmt.Errorf("load refresh record: %w", err)
	}

	now := time.Now()
	switch {
	case s.reuseWindow <= 0:
		// No grace at all: the record is gone after this redemption.
		if err := s.store.Remove(ctx, key); err != nil {
			return Tokens{}, fmt.Errorf("consume refresh record: %w", err)
		}

	case record.TimeUsed == nil:
		// First redemption: the record becomes "spent but within grace".
		record.TimeUsed = &now
		if err := storage.SetJSON(ctx, s.store, key, record, record.TTL.Refresh); err != nil {
			return Tokens{}, fmt.Errorf("stamp refresh record: %w", err)
		}

	case now.After(record.TimeUsed.Add(s.reuseWindow)):
		// Replay outside the grace window: treat as theft.
		refreshReuseDetectedTotal.Inc()
		s.emit(ctx, audit.Event{
			Action:   audit.ActionReuseDetected,
			Subject:  subject,
			ClientID: record.ClientID,
		})
		if err := s.invalidate.Invalidate(ctx, subject); err != nil {
			s.logger.ErrorContext(ctx, "subject invalidation failed",
				"subject", subject,
				"error", err,
			)
		}
		return Tokens{}, oautherr.New(oautherr.CodeInvalidGrant, "refresh token used or expired")

	default:
		// Benign retry within the window: hand back the same successor
		// pairing without amplifying the chain.
		access, err := s.signAccessToken(Value{
			Properties: record.Properties,
			Subject:    subject,
			ClientID:   record.ClientID,
			TTL:        record.TTL,
			TimeUsed:   record.TimeUsed,
		})
		if err != nil {
			return Tokens{}, err
		}
		tokensIssuedTotal.WithLabelValues("refresh_retry").Inc()
		return Tokens{
			Access:  access,
			Refresh: subject + ":" + record.NextToken,
		}, nil
	}

	tokens, err := s.Generate(ctx, Value{
		Properties: record.Properties,
		Subject:    subject,
		ClientID:   record.ClientID,
		TTL:        record.TTL,
		TimeUsed:   record.TimeUsed,
		NextToken:  record.NextToken,
	}, GenerateOptions{})
	if err != nil {
		return Tokens{}, err
	}

	s.emit(ctx, audit.Event{
		Action:   audit.ActionRefreshRotated,
		Subject:  subject,
		ClientID: record.ClientID,
	})
	return tokens, nil
}

// Invalidate revokes the entire refresh-token family for a subject through
// the configured strategy.
func (s *Service) Invalidate(ctx context.Context, subject string) error {
	s.emit(ctx, audit.Event{Action: audit.ActionSubjectInvalidated, Subject: subject})
	return s.invalidate.Invalidate(ctx, subject)
}

// invalidateStored is the default invalidation strategy: delete every refresh
// record under the subject. Host applications that issue their own sessions
// are expected to wrap this with their own revocation.
func (s *Service) invalidateStored(ctx context.Context, subject string) error {
	suffixes, err := s.store.List(ctx, append(append([]string(nil), refreshNamespace...), subject))
	if err != nil {
		return fmt.Errorf("list refresh family: %w", err)
	}
	for _, suffix := range suffixes {
		if len(suffix) != 1 {
			continue
		}
		if err := s.store.Remove(ctx, refreshKey(subject, suffix[0])); err != nil {
			return fmt.Errorf("remove refresh record: %w", err)
		}
	}
	s.logger.InfoContext(ctx, "invalidated refresh family",
		"subject", subject,
		"records", len(suffixes),
	)
	return nil
}

func (s *Service) signAccessToken(v Value) (string, error) {
	signingKey := s.keys.SigningKey()
	if signingKey.Private == nil {
		return "", fmt.Errorf("no signing key available")
	}

	issued := time.Now()
	base := issued
	if v.TimeUsed != nil {
		base = *v.TimeUsed
	}

	var properties any
	if len(v.Properties) > 0 {
		properties = v.Properties
	}

	claims := jwt.MapClaims{
		"mode":       "access",
		"properties": properties,
		"aud":        v.ClientID,
		"iss":        s.issuer,
		"sub":        v.Subject,
		"iat":        jwt.NewNumericDate(issued),
		"exp":        jwt.NewNumericDate(base.Add(v.TTL.Access)),
	}

	tok := jwt.NewWithClaims(jwt.GetSigningMethod(signingKey.Algorithm), claims)
	tok.Header["kid"] = signingKey.ID

	signed, err := tok.SignedString(signingKey.Private)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}

func refreshKey(subject, tokenValue string) []string {
	return append(append([]string(nil), refreshNamespace...), subject, tokenValue)
}

// splitRefreshToken parses the opaque "{subject}:{token}" wire format. The
// subject never contains a colon, so the first separator wins.
func splitRefreshToken(raw string) (subject, tokenValue string, ok bool) {
	subject, tokenValue, found := strings.Cut(raw, ":")
	if !found || subject == "" || tokenValue == "" {
		return "", "", false
	}
	return subject, tokenValue, true
}
