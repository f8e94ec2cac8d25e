package fees

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/BurntSushi/toml"
)

func testRecipient(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func TestApplyChargesOnTop(t *testing.T) {
	policy := Policy{Enabled: true, BasisPoints: 5, Recipient: testRecipient(0x01)}
	result := Apply(big.NewInt(1_000_000), policy)
	if result.Fee.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected fee: %s", result.Fee)
	}
	if result.Total.Cmp(big.NewInt(1_000_500)) != 0 {
		t.Fatalf("unexpected total: %s", result.Total)
	}
}

func TestApplyRoundsDown(t *testing.T) {
	policy := Policy{Enabled: true, BasisPoints: 5, Recipient: testRecipient(0x01)}
	result := Apply(big.NewInt(1_999), policy)
	if result.Fee.Sign() != 0 {
		t.Fatalf("expected fee to round down to zero, got %s", result.Fee)
	}
	if result.Total.Cmp(big.NewInt(1_999)) != 0 {
		t.Fatalf("unexpected total: %s", result.Total)
	}
}

func TestApplyDisabled(t *testing.T) {
	result := Apply(big.NewInt(1_000_000), DefaultPolicy(testRecipient(0x01)))
	if result.Fee.Sign() != 0 || result.Total.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("disabled policy should not charge a fee: %+v", result)
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := (Policy{BasisPoints: MaxBasisPoints + 1}).Validate(); err == nil {
		t.Fatalf("expected basis point range error")
	}
	if err := (Policy{Enabled: true, BasisPoints: 5}).Validate(); err == nil {
		t.Fatalf("expected missing recipient error")
	}
	if err := DefaultPolicy([20]byte{}).Validate(); err != nil {
		t.Fatalf("disabled policy without recipient should validate: %v", err)
	}
}

func TestPolicyJSONRoundTrip(t *testing.T) {
	policy := Policy{Enabled: true, BasisPoints: 12, Recipient: testRecipient(0xAB)}
	blob, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Policy
	if err := json.Unmarshal(blob, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != policy {
		t.Fatalf("round trip mismatch: %+v != %+v", decoded, policy)
	}
}

func TestPolicyTOMLSnakeCase(t *testing.T) {
	var cfg struct {
		Fees Policy `toml:"Fees"`
	}
	doc := `
[Fees]
enabled = true
fee_bps = 7
fee_to = "0xabababababababababababababababababababab"
`
	if _, err := toml.Decode(doc, &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !cfg.Fees.Enabled || cfg.Fees.BasisPoints != 7 || cfg.Fees.Recipient != testRecipient(0xAB) {
		t.Fatalf("unexpected policy: %+v", cfg.Fees)
	}
}

func TestPolicyTOMLRejectsInvalid(t *testing.T) {
	var cfg struct {
		Fees Policy `toml:"Fees"`
	}
	doc := `
[Fees]
enabled = true
basis_points = 5
`
	if _, err := toml.Decode(doc, &cfg); err == nil {
		t.Fatalf("expected missing recipient to fail decoding")
	}
}
