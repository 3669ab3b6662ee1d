package service

import (
	"encoding/json"
	"strings"
)

// SpoolRef identifies a spool either by internal id or by the printed
// label code. Exactly one form is set.
type SpoolRef struct {
	id    string
	label string
}

func SpoolByID(id string) SpoolRef {
	return SpoolRef{id: strings.TrimSpace(id)}
}

func SpoolByLabel(code string) SpoolRef {
	return SpoolRef{label: strings.TrimSpace(code)}
}

func (r SpoolRef) IsZero() bool {
	return r.id == "" && r.label == ""
}

func (r SpoolRef) String() string {
	if r.label != "" {
		return "label:" + r.label
	}
	return "id:" + r.id
}

// MarshalJSON {"by":"id|label","value":"..."}
func (r SpoolRef) MarshalJSON() ([]byte, error) {
	if r.label != "" {
		return json.Marshal(map[string]string{"by": "label", "value": r.label})
	}
	return json.Marshal(map[string]string{"by": "id", "value": r.id})
}

// UnmarshalJSON accepts {"by":"id|label","value":"..."}.
func (r *SpoolRef) UnmarshalJSON(data []byte) error {
	var raw struct {
		By    string `json:"by"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch strings.ToLower(raw.By) {
	case "label":
		*r = SpoolByLabel(raw.Value)
	case "id", "":
		*r = SpoolByID(raw.Value)
	default:
		return validation("unknown spool reference kind %q, expected id or label", raw.By)
	}
	return nil
}
