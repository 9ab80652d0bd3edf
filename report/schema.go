package report

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/chainlock/chainlock"
)

// Schema is the JSON Schema every report must validate against. LLM-produced
// reports that fail validation are discarded in favour of the deterministic
// assembler.
const Schema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["metadata", "summary", "vulnerabilities", "packages", "recommendations"],
	"properties": {
		"metadata": {
			"type": "object",
			"required": ["analysis_id", "target", "ecosystem", "analysis_status", "confidence"],
			"properties": {
				"analysis_id": {"type": "string", "minLength": 1},
				"target": {"type": "string"},
				"ecosystem": {"type": "string", "enum": ["npm", "pypi"]},
				"agents_executed": {"type": "integer", "minimum": 0},
				"agents_successful": {"type": "integer", "minimum": 0},
				"analysis_status": {"type": "string", "enum": ["full", "partial", "basic", "minimal"]},
				"confidence": {"type": "number", "minimum": 0, "maximum": 1},
				"missing_analysis": {"type": "array", "items": {"type": "string"}},
				"retry_recommended": {"type": "boolean"}
			}
		},
		"summary": {
			"type": "object",
			"properties": {
				"total_packages": {"type": "integer", "minimum": 0},
				"total_vulnerabilities": {"type": "integer", "minimum": 0},
				"critical_vulnerabilities": {"type": "integer", "minimum": 0},
				"high_vulnerabilities": {"type": "integer", "minimum": 0},
				"malicious_packages": {"type": "integer", "minimum": 0}
			}
		},
		"vulnerabilities": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["package", "id", "severity"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"severity": {"type": "string", "enum": ["unknown", "info", "low", "medium", "high", "critical"]},
					"is_current_version_affected": {"type": "string", "enum": ["yes", "no", "unknown"]},
					"status": {"type": "string", "enum": ["active", "fixed", "not_applicable", "not_available"]}
				}
			}
		},
		"packages": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["ref", "overall_risk"],
				"properties": {
					"overall_risk": {"type": "string", "enum": ["unknown", "info", "low", "medium", "high", "critical"]}
				}
			}
		},
		"recommendations": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["priority", "action"],
				"properties": {
					"priority": {"type": "string", "enum": ["info", "low", "medium", "high", "critical"]},
					"action": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(Schema)

// Validate checks raw against the report schema.
func Validate(raw []byte) error {
	res, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &chainlock.Error{Op: "report.Validate", Kind: chainlock.ErrUpstreamSchema, Inner: err}
	}
	if !res.Valid() {
		errs := res.Errors()
		msg := "schema violation"
		if len(errs) != 0 {
			msg = errs[0].String()
		}
		return &chainlock.Error{
			Op:      "report.Validate",
			Kind:    chainlock.ErrUpstreamSchema,
			Message: fmt.Sprintf("%s (%d violations)", msg, len(errs)),
		}
	}
	return nil
}

// Parse decodes and validates a serialised report.
func Parse(raw []byte) (*chainlock.Report, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}
	var r chainlock.Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, &chainlock.Error{Op: "report.Parse", Kind: chainlock.ErrUpstreamSchema, Inner: err}
	}
	return &r, nil
}
