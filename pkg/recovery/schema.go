package recovery

import (
	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/schema"
)

const (
	maxKeyLength   = 128
	maxValueLength = 4000
	maxAttempts    = 1000
	maxEpoch       = 1 << 53
)

// SessionSchema describes a stored session record as decoded from JSON.
func SessionSchema() schema.Schema {
	stages := stageNames()
	anyStage := schema.Enum("", stages...)

	field := schema.Object(schema.Schema{
		"key":        schema.Text(1, maxKeyLength),
		"value":      schema.Text(0, maxValueLength),
		"confirmed":  schema.Default(schema.Bool(), false),
		"provenance": schema.Default(provenance(), string(domain.ProvenanceUser)),
		"forced":     schema.Optional(schema.Bool()),
		"updated_at": schema.Time(),
	})

	address := schema.Object(schema.Schema{
		"stage": anyStage,
		"index": schema.IntRange(0, maxAttempts),
	})

	pending := schema.Object(schema.Schema{
		"target":     schema.Text(1, maxKeyLength),
		"stage":      anyStage,
		"value":      schema.Text(0, maxValueLength),
		"attempts":   schema.Default(schema.IntRange(0, maxAttempts), int64(1)),
		"composite":  schema.Optional(schema.Bool()),
		"quality":    schema.Optional(schema.Enum("", string(domain.QualityHigh), string(domain.QualityMedium), string(domain.QualityLow))),
		"hint":       schema.Optional(schema.Text(0, maxValueLength)),
		"provenance": schema.Optional(provenance()),
		"created_at": schema.Time(),
	})

	return schema.Schema{
		"id":         schema.Text(1, maxKeyLength),
		"fields":     schema.Default(schema.Slice(field), []any{}),
		"stage":      schema.Enum(domain.FirstStage.String(), stages...),
		"sub_step":   schema.Optional(address),
		"pending":    schema.Optional(pending),
		"attempts":   schema.Optional(schema.Map(schema.IntRange(0, maxAttempts))),
		"epoch":      schema.Default(schema.IntRange(0, maxEpoch), int64(0)),
		"created_at": schema.Time(),
		"updated_at": schema.Time(),
	}
}

func provenance() schema.Type {
	return schema.Enum(string(domain.ProvenanceUser), string(domain.ProvenanceUser), string(domain.ProvenanceSuggested))
}

func stageNames() []string {
	all := domain.AllStages()
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = s.String()
	}
	return names
}
