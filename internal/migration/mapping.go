package migration

import (
	"fmt"
	"strings"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
)

// MappingKind tags the variant of a FieldMapping.
type MappingKind string

const (
	KindLiteral MappingKind = "literal"
	KindCopy    MappingKind = "copy"
	KindConvert MappingKind = "convert"
	KindLookup  MappingKind = "lookup"
)

// FieldMapping produces exactly one target field per record. The variant is
// implied by which fields are set:
//
//	Literal  target + value (no source)
//	Copy     source + target
//	Convert  source + target + convert primitive
//	Lookup   source + target + valueMap (+ fallback); may also convert first
//
// Default applies to every variant when the resulting value is empty.
type FieldMapping struct {
	Source   string            `yaml:"source,omitempty" json:"source,omitempty"`
	Target   string            `yaml:"target" json:"target"`
	Value    interface{}       `yaml:"value,omitempty" json:"value,omitempty"`
	Convert  string            `yaml:"convert,omitempty" json:"convert,omitempty"`
	ValueMap map[string]string `yaml:"valueMap,omitempty" json:"valueMap,omitempty"`
	Fallback interface{}       `yaml:"fallback,omitempty" json:"fallback,omitempty"`
	Default  interface{}       `yaml:"default,omitempty" json:"default,omitempty"`
}

// Literal injects value into target on every record.
func Literal(target string, value interface{}) FieldMapping {
	return FieldMapping{Target: target, Value: value}
}

// Copy moves source to target unchanged.
func Copy(source, target string) FieldMapping {
	return FieldMapping{Source: source, Target: target}
}

// Convert passes source through a named primitive.
func Convert(source, target, primitive string) FieldMapping {
	return FieldMapping{Source: source, Target: target, Convert: primitive}
}

// Lookup remaps source through table. Unmapped values become fallback, or stay
// as they are when fallback is nil.
func Lookup(source, target string, table map[string]string, fallback interface{}) FieldMapping {
	return FieldMapping{Source: source, Target: target, ValueMap: table, Fallback: fallback}
}

// WithDefault returns a copy of m that falls back to def on empty values.
func (m FieldMapping) WithDefault(def interface{}) FieldMapping {
	m.Default = def
	return m
}

// WithConvert returns a copy of m that converts before any lookup.
func (m FieldMapping) WithConvert(primitive string) FieldMapping {
	m.Convert = primitive
	return m
}

// Kind reports the variant.
func (m FieldMapping) Kind() MappingKind {
	switch {
	case m.Source == "":
		return KindLiteral
	case len(m.ValueMap) > 0:
		return KindLookup
	case m.Convert != "":
		return KindConvert
	default:
		return KindCopy
	}
}

// Check reports structural problems with the mapping itself.
func (m FieldMapping) Check() error {
	if strings.TrimSpace(m.Target) == "" {
		return errors.New("mapping has no target")
	}
	if m.Kind() == KindLiteral && m.Value == nil && m.Default == nil {
		return errors.Newf("mapping for %s has neither source, value nor default", m.Target)
	}
	return nil
}

// TransformRecords applies mappings in declaration order to every record. Meta
// fields travel through untouched. With no mappings records pass through as
// copies. Unknown primitives yield one ERR_PHASE_VALIDATION error per mapping;
// values that fail conversion yield a warning and an empty value.
func TransformRecords(mappings []FieldMapping, records []models.Record) *models.PhaseResult {
	res := models.NewPhaseResult()
	res.Records = make([]models.Record, 0, len(records))

	converters := make([]Converter, len(mappings))
	for i, m := range mappings {
		if m.Convert == "" {
			continue
		}
		c, ok := LookupPrimitive(m.Convert)
		if !ok {
			res.AddError(string(errors.CodePhaseValidation), m.Target, -1,
				fmt.Sprintf("unknown convert primitive %q", m.Convert))
			continue
		}
		converters[i] = c
	}

	for idx, rec := range records {
		if len(mappings) == 0 {
			res.Records = append(res.Records, rec.Clone())
			continue
		}
		out := make(models.Record, len(mappings)+1)
		for k, v := range rec {
			if strings.HasPrefix(k, models.MetaPrefix) {
				out[k] = v
			}
		}
		for i, m := range mappings {
			v, err := m.apply(rec, converters[i])
			if err != nil {
				res.AddWarning("", m.Target, idx, fmt.Sprintf("%s: %v", m.Target, err))
			}
			if v == nil {
				v = ""
			}
			out[m.Target] = v
		}
		res.Records = append(res.Records, out)
	}

	res.RecordCount = len(res.Records)
	res.Settle()
	return res
}

func (m FieldMapping) apply(rec models.Record, convert Converter) (interface{}, error) {
	var (
		v   interface{}
		err error
	)
	switch m.Kind() {
	case KindLiteral:
		v = m.Value
	case KindCopy:
		v = rec[m.Source]
	case KindConvert:
		v, err = m.convert(rec[m.Source], convert)
	case KindLookup:
		v, err = m.convert(rec[m.Source], convert)
		if err == nil && !isEmpty(v) {
			if mapped, ok := m.ValueMap[stringify(v)]; ok {
				v = mapped
			} else if m.Fallback != nil {
				v = m.Fallback
			}
		}
	}
	if isEmpty(v) && m.Default != nil {
		v = m.Default
	}
	return v, err
}

// convert runs the primitive when one resolved. A nil converter means either no
// primitive or an unknown one already reported; the raw value passes through.
func (m FieldMapping) convert(v interface{}, c Converter) (interface{}, error) {
	if c == nil {
		return v, nil
	}
	out, err := c(v)
	if err != nil {
		return nil, err
	}
	return out, nil
}
