package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/ecochain/ecochain/internal/emission"
	"github.com/ecochain/ecochain/internal/ledger"
	"github.com/ecochain/ecochain/internal/threat"
	"github.com/ecochain/ecochain/internal/token"
	"github.com/ecochain/ecochain/internal/webhooks"
	"github.com/ecochain/ecochain/pkg/merkle"
)

// ErrNotFound is returned when a token hash is not recorded in the ledger.
var ErrNotFound = errors.New("not found")

// CalculateRequest is one period of energy data to assess.
type CalculateRequest = emission.Input

// IssueRequest identifies a business and period and carries the energy data
// its token is computed from.
type IssueRequest struct {
	SMEID   string `json:"sme_id"`
	SMEName string `json:"sme_name"`
	Month   string `json:"month"`
	emission.Input
	// Timestamp overrides the issuance time recorded in the token.
	Timestamp string `json:"timestamp,omitempty"`
}

// Issuance is the outcome of a successful Issue.
type Issuance struct {
	Token           *token.Token         `json:"token"`
	Assessment      *emission.Assessment `json:"assessment"`
	Block           *ledger.Block        `json:"block"`
	VerificationURL string               `json:"verification_url,omitempty"`
	Risk            *threat.Report       `json:"risk,omitempty"`
}

// TokenVerification reports each integrity check on a presented token.
type TokenVerification struct {
	TokenID        string `json:"token_id"`
	Hash           string `json:"hash"`
	HashValid      bool   `json:"hash_valid"`
	SignatureValid bool   `json:"signature_valid"`
	OnChain        bool   `json:"on_chain"`
	Verified       bool   `json:"verified"`
}

// Record is a recorded token together with the block that holds it.
type Record struct {
	Token *token.Token  `json:"token"`
	Block *ledger.Block `json:"block"`
}

// Registry is the public list of issued token hashes and their Merkle root.
type Registry struct {
	Count       int      `json:"count"`
	TokenHashes []string `json:"token_hashes"`
	MerkleRoot  string   `json:"merkle_root"`
}

// RegistryProof authenticates one token hash against the registry root.
type RegistryProof struct {
	TokenHash  string        `json:"token_hash"`
	Position   int           `json:"position"`
	MerkleRoot string        `json:"merkle_root"`
	MerklePath []merkle.Step `json:"merkle_path"`
}

// RejectedError is returned by Issue when screening refuses a claim.
type RejectedError struct {
	Report *threat.Report
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("issuance rejected: risk score %d (%s)", e.Report.Score, e.Report.Severity)
}

// IsValidation reports whether err was caused by bad caller input.
func IsValidation(err error) bool {
	var verr *emission.ValidationError
	var ferr *token.FieldError
	return errors.As(err, &verr) || errors.As(err, &ferr)
}

// EventDispatcher receives issuance events. webhooks.Dispatcher implements it.
type EventDispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]string)
}

// IssuanceService calculates emissions, issues tokens and records them.
type IssuanceService struct {
	model         *emission.Model
	factory       *token.Factory
	ledger        ledger.Ledger
	verifyBaseURL string        // empty = no verification URL in Issuance
	screener      threat.Scorer // nil = no screening
	events        EventDispatcher
	logger        *zap.Logger
}

// NewIssuanceService creates an IssuanceService over the given ledger.
func NewIssuanceService(model *emission.Model, factory *token.Factory, l ledger.Ledger, logger *zap.Logger) *IssuanceService {
	return &IssuanceService{
		model:   model,
		factory: factory,
		ledger:  l,
		logger:  logger,
	}
}

// SetVerifyBaseURL configures the base of verification links returned by Issue.
func (s *IssuanceService) SetVerifyBaseURL(url string) {
	s.verifyBaseURL = url
}

// SetScreener enables risk screening of issuance claims.
func (s *IssuanceService) SetScreener(sc threat.Scorer) {
	s.screener = sc
}

// SetEventDispatcher configures where issuance events are sent.
func (s *IssuanceService) SetEventDispatcher(d EventDispatcher) {
	s.events = d
}

func (s *IssuanceService) dispatch(ctx context.Context, eventType string, payload map[string]string) {
	if s.events != nil {
		s.events.Dispatch(ctx, eventType, payload)
	}
}

// Ledger returns the ledger tokens are recorded in.
func (s *IssuanceService) Ledger() ledger.Ledger {
	return s.ledger
}

// Calculate assesses one period of energy data without issuing anything.
func (s *IssuanceService) Calculate(req CalculateRequest) (*emission.Assessment, error) {
	return s.model.Assess(req)
}

// Issue calculates the emission record, generates its token and appends it to
// the ledger. Invalid input fails before anything is written.
func (s *IssuanceService) Issue(ctx context.Context, req IssueRequest) (*Issuance, error) {
	a, err := s.model.Assess(req.Input)
	if err != nil {
		return nil, err
	}

	risk, err := s.screen(ctx, req, a)
	if err != nil {
		return nil, err
	}

	tok, err := s.factory.Generate(token.Fields{
		SMEID:              req.SMEID,
		SMEName:            req.SMEName,
		BusinessType:       req.BusinessType,
		Month:              req.Month,
		EnergyKWh:          a.EnergyKWh,
		EmissionsKg:        a.EmissionsKg,
		BaselineKg:         a.BaselineKg,
		EmissionsReducedKg: a.EmissionsReducedKg,
		Timestamp:          req.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	if !token.Verify(tok) {
		return nil, fmt.Errorf("token %s failed self-verification", tok.TokenID)
	}

	payload, err := tok.Payload()
	if err != nil {
		return nil, err
	}
	block, err := s.ledger.Append(ctx, payload)
	if err != nil {
		s.logger.Error("ledger append failed",
			zap.String("token_id", tok.TokenID),
			zap.String("sme_id", tok.SMEID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record token %s: %w", tok.TokenID, err)
	}

	s.logger.Info("token issued",
		zap.String("token_id", tok.TokenID),
		zap.String("sme_id", tok.SMEID),
		zap.String("month", tok.Month),
		zap.Int("block", block.Index),
		zap.Float64("emissions_reduced_kg", tok.EmissionsReducedKg),
	)

	s.dispatch(ctx, webhooks.EventTokenIssued, map[string]string{
		"token_id":             tok.TokenID,
		"hash":                 tok.Hash,
		"sme_id":               tok.SMEID,
		"month":                tok.Month,
		"block":                strconv.Itoa(block.Index),
		"emissions_reduced_kg": strconv.FormatFloat(tok.EmissionsReducedKg, 'f', -1, 64),
	})

	out := &Issuance{Token: tok, Assessment: a, Block: block, Risk: risk}
	if s.verifyBaseURL != "" {
		out.VerificationURL = token.VerificationURL(s.verifyBaseURL, tok)
	}
	return out, nil
}

// screen scores the claim when a screener is configured. A rejected claim
// is returned as *RejectedError.
func (s *IssuanceService) screen(ctx context.Context, req IssueRequest, a *emission.Assessment) (*threat.Report, error) {
	if s.screener == nil {
		return nil, nil
	}
	prior, err := s.countPeriod(ctx, req.SMEID, req.Month)
	if err != nil {
		return nil, err
	}
	r, err := s.screener.Score(ctx, threat.Claim{
		SMEID:        req.SMEID,
		Month:        req.Month,
		Input:        req.Input,
		Assessment:   a,
		PriorPeriods: prior,
	})
	if err != nil {
		return nil, fmt.Errorf("screen claim: %w", err)
	}
	if r.Rejected {
		s.logger.Warn("issuance rejected by screening",
			zap.String("sme_id", req.SMEID),
			zap.String("month", req.Month),
			zap.Int("score", r.Score),
		)
		s.dispatch(ctx, webhooks.EventTokenRejected, map[string]string{
			"sme_id":   req.SMEID,
			"month":    req.Month,
			"score":    strconv.Itoa(r.Score),
			"severity": r.Severity,
		})
		return nil, &RejectedError{Report: r}
	}
	return r, nil
}

// countPeriod returns how many recorded tokens smeID holds for month.
func (s *IssuanceService) countPeriod(ctx context.Context, smeID, month string) (int, error) {
	toks, err := s.Tokens(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range toks {
		if t.SMEID == smeID && t.Month == month {
			n++
		}
	}
	return n, nil
}

// VerifyToken re-hashes tok, checks its signature and looks its hash up in
// the ledger. Integrity failures are reported as false fields, not errors.
func (s *IssuanceService) VerifyToken(ctx context.Context, tok *token.Token) (*TokenVerification, error) {
	v := &TokenVerification{
		TokenID:        tok.TokenID,
		Hash:           tok.Hash,
		HashValid:      token.Verify(tok),
		SignatureValid: token.VerifySignature(tok),
	}
	if tok.Hash != "" {
		onChain, err := s.ledger.FindTokenByHash(ctx, tok.Hash)
		if err != nil {
			return nil, fmt.Errorf("look up token %s: %w", tok.Hash, err)
		}
		v.OnChain = onChain
	}
	v.Verified = v.HashValid && v.SignatureValid && v.OnChain
	return v, nil
}

// Lookup returns the token recorded under tokenHash and its block. It reads
// one block through the token index; use the ledger's ProofOfInclusion for a
// Merkle proof.
func (s *IssuanceService) Lookup(ctx context.Context, tokenHash string) (*Record, error) {
	block, err := s.ledger.FindTokenBlock(ctx, tokenHash)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("token %s: %w", tokenHash, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	tok, err := token.Parse(block.Data)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", block.Index, err)
	}
	return &Record{Token: tok, Block: block}, nil
}

// Tokens returns every recorded token in chain order.
func (s *IssuanceService) Tokens(ctx context.Context) ([]*token.Token, error) {
	payloads, err := ledger.Tokens(ctx, s.ledger)
	if err != nil {
		return nil, err
	}
	out := make([]*token.Token, 0, len(payloads))
	for i, p := range payloads {
		tok, err := token.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
		out = append(out, tok)
	}
	return out, nil
}

func (s *IssuanceService) tokenHashes(ctx context.Context) ([]string, error) {
	toks, err := s.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(toks))
	for i, t := range toks {
		hashes[i] = t.Hash
	}
	return hashes, nil
}

// RegistryRoot returns the public registry: every token hash in issue order
// and their Merkle root, for publication.
func (s *IssuanceService) RegistryRoot(ctx context.Context) (*Registry, error) {
	hashes, err := s.tokenHashes(ctx)
	if err != nil {
		return nil, err
	}
	return &Registry{
		Count:       len(hashes),
		TokenHashes: hashes,
		MerkleRoot:  merkle.Root(hashes),
	}, nil
}

// RegistryProof returns the Merkle path from tokenHash to the registry root.
func (s *IssuanceService) RegistryProof(ctx context.Context, tokenHash string) (*RegistryProof, error) {
	hashes, err := s.tokenHashes(ctx)
	if err != nil {
		return nil, err
	}
	for i, h := range hashes {
		if h != tokenHash {
			continue
		}
		path, err := merkle.Proof(hashes, i)
		if err != nil {
			return nil, err
		}
		return &RegistryProof{
			TokenHash:  tokenHash,
			Position:   i,
			MerkleRoot: merkle.Root(hashes),
			MerklePath: path,
		}, nil
	}
	return nil, fmt.Errorf("token %s: %w", tokenHash, ErrNotFound)
}

// Summary describes the ledger.
func (s *IssuanceService) Summary(ctx context.Context) (*ledger.Summary, error) {
	return ledger.Summarize(ctx, s.ledger)
}
