package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Gain is the tuner gain in dB. Zero selects automatic gain and is written
// back as "auto".
type Gain float64

func (g Gain) Auto() bool {
	return g == 0
}

func (g Gain) String() string {
	if g.Auto() {
		return "auto"
	}
	return strconv.FormatFloat(float64(g), 'f', -1, 64)
}

func parseGain(s string) (Gain, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "auto" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid gain %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("gain must be >= 0: %v", v)
	}
	return Gain(v), nil
}

func (g *Gain) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*g = 0
		return nil
	case float64:
		parsed, err := parseGain(strconv.FormatFloat(v, 'f', -1, 64))
		if err != nil {
			return err
		}
		*g = parsed
		return nil
	case string:
		parsed, err := parseGain(v)
		if err != nil {
			return err
		}
		*g = parsed
		return nil
	}
	return fmt.Errorf("invalid gain %s", string(data))
}

func (g Gain) MarshalJSON() ([]byte, error) {
	if g.Auto() {
		return json.Marshal("auto")
	}
	return json.Marshal(float64(g))
}

func (g *Gain) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("gain must be a scalar, line %d", node.Line)
	}
	parsed, err := parseGain(node.Value)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

func (g Gain) MarshalYAML() (any, error) {
	if g.Auto() {
		return "auto", nil
	}
	return float64(g), nil
}
