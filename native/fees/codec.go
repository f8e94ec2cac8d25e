package fees

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type policyJSON struct {
	Enabled     bool   `json:"enabled"`
	BasisPoints uint32 `json:"basisPoints"`
	Recipient   string `json:"recipient,omitempty"`
}

// MarshalJSON renders the recipient as a checksummed hex address.
func (p Policy) MarshalJSON() ([]byte, error) {
	out := policyJSON{Enabled: p.Enabled, BasisPoints: p.BasisPoints}
	if p.Recipient != ([20]byte{}) {
		out.Recipient = common.Address(p.Recipient).Hex()
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts hex recipients with or without the 0x prefix.
func (p *Policy) UnmarshalJSON(data []byte) error {
	var decoded policyJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	policy := Policy{Enabled: decoded.Enabled, BasisPoints: decoded.BasisPoints}
	if recipient := strings.TrimSpace(decoded.Recipient); recipient != "" {
		if !common.IsHexAddress(recipient) {
			return fmt.Errorf("fees: invalid recipient %q", decoded.Recipient)
		}
		policy.Recipient = common.HexToAddress(recipient)
	}
	*p = policy
	return nil
}

// UnmarshalTOML performs a best-effort conversion from snake_case TOML keys
// into the camelCase JSON structure used by the fee policy.
func (p *Policy) UnmarshalTOML(data interface{}) error {
	table, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("fees: policy must decode from a table")
	}
	blob, err := json.Marshal(normalizePolicyTable(table))
	if err != nil {
		return err
	}
	var decoded Policy
	if err := json.Unmarshal(blob, &decoded); err != nil {
		return err
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*p = decoded
	return nil
}

func normalizePolicyTable(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		switch {
		case strings.EqualFold(key, "basis_points"), strings.EqualFold(key, "fee_bps"), strings.EqualFold(key, "basisPoints"):
			out["basisPoints"] = value
		case strings.EqualFold(key, "recipient"), strings.EqualFold(key, "fee_to"), strings.EqualFold(key, "feeTo"):
			out["recipient"] = value
		case strings.EqualFold(key, "enabled"), strings.EqualFold(key, "fees_enabled"):
			out["enabled"] = value
		default:
			out[key] = value
		}
	}
	return out
}
