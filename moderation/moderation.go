// Package moderation decides which received records are admitted into the
// local store. The default policy validates the wire shape against a JSON
// schema, recomputes the integrity hash and verifies the author signature.
package moderation

import (
	"context"
	_ "embed"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/pinmesh/pinmesh/common/types"
	"github.com/pinmesh/pinmesh/signing"
)

//go:generate mockgen -package=mocks -destination=./mocks/mocks.go -source=./moderation.go

// Moderator is a total predicate over record batches: the returned map has a
// verdict for every input id.
type Moderator interface {
	ModerateBatch(ctx context.Context, batch map[types.RecordID]*types.Record) map[types.RecordID]bool
}

// AcceptAll admits everything. Useful in tests and for trusted meshes.
type AcceptAll struct{}

// ModerateBatch implements Moderator.
func (AcceptAll) ModerateBatch(
	_ context.Context, batch map[types.RecordID]*types.Record,
) map[types.RecordID]bool {
	verdicts := make(map[types.RecordID]bool, len(batch))
	for id := range batch {
		verdicts[id] = true
	}
	return verdicts
}

//go:embed record.schema.json
var recordSchemaJSON string

// Config configures the default policy.
type Config struct {
	// MaxTextLength rejects records with longer content text. Zero disables
	// the check.
	MaxTextLength int `mapstructure:"max-text-length"`
	// VerifySignatures toggles schnorr signature verification.
	VerifySignatures bool `mapstructure:"verify-signatures"`
}

// DefaultConfig returns the default moderation parameters.
func DefaultConfig() Config {
	return Config{
		MaxTextLength:    4096,
		VerifySignatures: true,
	}
}

// Policy is the default moderation policy.
type Policy struct {
	logger *zap.Logger
	cfg    Config
	schema *jsonschema.Schema
}

// NewPolicy compiles the record schema and returns a policy.
func NewPolicy(logger *zap.Logger, cfg Config) (*Policy, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("record.schema.json", strings.NewReader(recordSchemaJSON)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("record.schema.json")
	if err != nil {
		return nil, err
	}
	return &Policy{logger: logger, cfg: cfg, schema: schema}, nil
}

// ModerateBatch implements Moderator. A failure to validate one record never
// affects the verdict of another.
func (p *Policy) ModerateBatch(
	_ context.Context, batch map[types.RecordID]*types.Record,
) map[types.RecordID]bool {
	verdicts := make(map[types.RecordID]bool, len(batch))
	for id, rec := range batch {
		verdicts[id] = p.admit(id, rec)
	}
	return verdicts
}

func (p *Policy) admit(id types.RecordID, rec *types.Record) bool {
	if rec == nil || rec.UUID != id {
		p.logger.Debug("rejecting record with mismatched id", zap.Stringer("uuid", id))
		return false
	}
	if err := p.validateShape(rec); err != nil {
		p.logger.Debug("rejecting record with invalid shape",
			zap.Stringer("uuid", id), zap.Error(err))
		return false
	}
	if p.cfg.MaxTextLength > 0 && len(rec.Content.Text) > p.cfg.MaxTextLength {
		p.logger.Debug("rejecting record with oversized text",
			zap.Stringer("uuid", id), zap.Int("length", len(rec.Content.Text)))
		return false
	}
	if rec.Geo.Latitude < -90 || rec.Geo.Latitude > 90 ||
		rec.Geo.Longitude < -180 || rec.Geo.Longitude > 180 {
		p.logger.Debug("rejecting record with out-of-range coordinates",
			zap.Stringer("uuid", id))
		return false
	}
	if err := rec.CheckIntegrity(); err != nil {
		p.logger.Debug("rejecting record with bad integrity hash",
			zap.Stringer("uuid", id), zap.Error(err))
		return false
	}
	if p.cfg.VerifySignatures {
		if err := signing.VerifyRecord(rec); err != nil {
			p.logger.Debug("rejecting record with bad signature",
				zap.Stringer("uuid", id), zap.Error(err))
			return false
		}
	}
	return true
}

func (p *Policy) validateShape(rec *types.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return p.schema.Validate(doc)
}
