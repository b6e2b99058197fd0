package claim

import (
	"encoding/json"
	"fmt"
)

// Encode serializes the claim body for ledger storage.
func (c *Claim) Encode() ([]byte, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode claim %s: %w", c.ClaimID, err)
	}
	return body, nil
}

// Decode restores a claim from its ledger body.
func Decode(body []byte) (*Claim, error) {
	var c Claim
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("decode claim: %w", err)
	}
	return &c, nil
}
