// Package token builds and verifies Verified Green Tokens: the canonical,
// hash-sealed record asserting one business's emissions reduction over one
// period.
//
// A token's Hash is SHA-256 over the canonical JSON of every field except Hash
// and Signature. Signature is SHA-256 over TokenID ‖ Timestamp ‖ Hash.
// Verification recomputes and compares; it never mutates the token.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ecochain/ecochain/pkg/canonical"
)

// Version is the schema version stamped on new tokens.
const Version = "1.0"

// StatusVerified is the only status a token is issued with.
const StatusVerified = "verified"

// Token is the canonical record. Fields are declared in key order so the
// standard JSON encoding is also sorted. Quantities are always kg / kWh.
type Token struct {
	BaselineKg          float64 `json:"baseline_kg"`
	BusinessType        string  `json:"business_type"`
	EmissionsKg         float64 `json:"emissions_kg"`
	EmissionsReducedKg  float64 `json:"emissions_reduced_kg"`
	EnergyKWh           float64 `json:"energy_kwh"`
	Hash                string  `json:"hash"`
	Month               string  `json:"month"`
	ReductionPercentage float64 `json:"reduction_percentage"`
	Signature           string  `json:"signature"`
	SMEID               string  `json:"sme_id"`
	SMEName             string  `json:"sme_name"`
	Status              string  `json:"status"`
	Timestamp           string  `json:"timestamp"`
	TokenID             string  `json:"token_id"`
	Version             string  `json:"version"`
}

// contentFields returns every non-integrity field keyed by its JSON name.
func (t *Token) contentFields() map[string]any {
	return map[string]any{
		"baseline_kg":          t.BaselineKg,
		"business_type":        t.BusinessType,
		"emissions_kg":         t.EmissionsKg,
		"emissions_reduced_kg": t.EmissionsReducedKg,
		"energy_kwh":           t.EnergyKWh,
		"month":                t.Month,
		"reduction_percentage": t.ReductionPercentage,
		"sme_id":               t.SMEID,
		"sme_name":             t.SMEName,
		"status":               t.Status,
		"timestamp":            t.Timestamp,
		"token_id":             t.TokenID,
		"version":              t.Version,
	}
}

// CanonicalContent returns the exact bytes the content hash is taken over.
func (t *Token) CanonicalContent() ([]byte, error) {
	b, err := canonical.Marshal(t.contentFields())
	if err != nil {
		return nil, fmt.Errorf("canonicalize token %s: %w", t.TokenID, err)
	}
	return b, nil
}

// ComputeHash recomputes the content hash from the token's current fields.
func (t *Token) ComputeHash() (string, error) {
	b, err := t.CanonicalContent()
	if err != nil {
		return "", err
	}
	return sha256Hex(b), nil
}

// ComputeSignature recomputes the signature from TokenID, Timestamp and Hash.
func (t *Token) ComputeSignature() string {
	return sha256Hex([]byte(t.TokenID + t.Timestamp + t.Hash))
}

// Payload returns the canonical JSON of the whole token, integrity fields
// included, for storage in a ledger block.
func (t *Token) Payload() (json.RawMessage, error) {
	fields := t.contentFields()
	fields["hash"] = t.Hash
	fields["signature"] = t.Signature
	b, err := canonical.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("canonicalize token %s: %w", t.TokenID, err)
	}
	return b, nil
}

// Metadata is the identifying subset of a token.
type Metadata struct {
	TokenID   string `json:"token_id"`
	SMEID     string `json:"sme_id"`
	Month     string `json:"month"`
	Timestamp string `json:"timestamp"`
	Hash      string `json:"hash"`
	Status    string `json:"status"`
	Version   string `json:"version"`
}

// Metadata returns the token's identifying fields.
func (t *Token) Metadata() Metadata {
	return Metadata{
		TokenID:   t.TokenID,
		SMEID:     t.SMEID,
		Month:     t.Month,
		Timestamp: t.Timestamp,
		Hash:      t.Hash,
		Status:    t.Status,
		Version:   t.Version,
	}
}

// Parse decodes a token from JSON such as a block payload.
func Parse(data []byte) (*Token, error) {
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &t, nil
}

func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
