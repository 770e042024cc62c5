package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"vape-recon/internal/reconcile/model"
)

//go:embed default_policy.yaml
var defaultPolicy []byte

// LoadPolicy читает YAML с правилами нормализации; пустой путь - встроенная политика.
func LoadPolicy(path string) (model.Policy, error) {
	if path == "" {
		return decodePolicy(bytes.NewReader(defaultPolicy))
	}
	f, err := os.Open(path)
	if err != nil {
		return model.Policy{}, fmt.Errorf("%w: policy: %w", ErrInvalidConfig, err)
	}
	defer f.Close()
	return decodePolicy(f)
}

func decodePolicy(r io.Reader) (model.Policy, error) {
	var p model.Policy
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return model.Policy{}, fmt.Errorf("%w: policy: %w", ErrInvalidConfig, err)
	}
	return p, nil
}
