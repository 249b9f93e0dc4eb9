package store

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/PeterSoManLung/FindDinning/internal/model"
)

// Both drivers store structured fields as JSON documents (JSONB in Postgres,
// TEXT in SQLite); these helpers keep the encoding identical.

func encodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, eris.Wrap(err, "store: marshal json")
}

// encodeOptionalJSON returns nil for empty maps so the column stays NULL.
func encodeOptionalJSON[M ~map[K]V, K comparable, V any](m M) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return encodeJSON(m)
}

func decodeJSON(data []byte, dst any, what string) error {
	if len(data) == 0 {
		return nil
	}
	return eris.Wrapf(json.Unmarshal(data, dst), "store: unmarshal %s", what)
}

func columnList(cols []string) string {
	return strings.Join(cols, ", ")
}

func encodeExperiment(exp *model.Experiment) (variants, metrics, meta []byte, err error) {
	if variants, err = encodeJSON(exp.Variants); err != nil {
		return nil, nil, nil, err
	}
	if metrics, err = encodeJSON(exp.SuccessMetrics); err != nil {
		return nil, nil, nil, err
	}
	if meta, err = encodeJSON(exp.Metadata); err != nil {
		return nil, nil, nil, err
	}
	return variants, metrics, meta, nil
}

func decodeExperiment(exp *model.Experiment, variants, metrics, meta []byte) error {
	if err := decodeJSON(variants, &exp.Variants, "variants"); err != nil {
		return err
	}
	if err := decodeJSON(metrics, &exp.SuccessMetrics, "success metrics"); err != nil {
		return err
	}
	return decodeJSON(meta, &exp.Metadata, "experiment metadata")
}
