package main

import (
	"fmt"
	"os"

	"github.com/micromdm/nanouem/uem"

	"github.com/goccy/go-yaml"
)

// loadParams reads deployment parameters from a JSON or YAML file.
// An empty path returns no parameters.
func loadParams(path string) (map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading deployment parameters: %v", uem.ErrConfiguration, err)
	}
	params := make(map[string]interface{})
	if err = yaml.Unmarshal(b, &params); err != nil {
		return nil, fmt.Errorf("%w: decoding deployment parameters: %v", uem.ErrConfiguration, err)
	}
	return params, nil
}
