package aliases

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tables holds the station and commodity alias mappings handed to the
// normalizer. A missing mapping means the raw code passes through
// unchanged. Tables values are snapshots: Default and Load always return
// fresh copies, so a snapshot handed to an in-flight normalization run
// is never mutated underneath it.
type Tables struct {
	Stations    map[string]string `yaml:"stations"`
	Commodities map[string]string `yaml:"commodities"`
}

// Default returns the built-in alias tables used when no alias file is
// configured. IOST and IORE are the same iron-ore commodity in source data.
func Default() Tables {
	return Tables{
		Stations: map[string]string{},
		Commodities: map[string]string{
			"IOST": "IORE",
		},
	}
}

// Load reads alias tables from a YAML file and merges them over the
// built-in defaults. The returned snapshot is independent of any
// previously loaded one.
func Load(path string) (Tables, error) {
	t := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("failed to read alias file: %w", err)
	}

	var fileTables Tables
	if err := yaml.Unmarshal(data, &fileTables); err != nil {
		return Tables{}, fmt.Errorf("failed to parse alias file: %w", err)
	}

	for raw, canonical := range fileTables.Stations {
		t.Stations[raw] = canonical
	}
	for raw, canonical := range fileTables.Commodities {
		t.Commodities[raw] = canonical
	}

	return t, nil
}

// Station resolves a raw station code to its canonical form.
func (t Tables) Station(code string) string {
	if canonical, ok := t.Stations[code]; ok {
		return canonical
	}
	return code
}

// Commodity resolves a raw commodity code to its canonical form.
func (t Tables) Commodity(code string) string {
	if canonical, ok := t.Commodities[code]; ok {
		return canonical
	}
	return code
}

// Clone returns a deep copy, used when a caller needs to derive a
// modified snapshot without touching the original.
func (t Tables) Clone() Tables {
	c := Tables{
		Stations:    make(map[string]string, len(t.Stations)),
		Commodities: make(map[string]string, len(t.Commodities)),
	}
	for k, v := range t.Stations {
		c.Stations[k] = v
	}
	for k, v := range t.Commodities {
		c.Commodities[k] = v
	}
	return c
}
