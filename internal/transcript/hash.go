package transcript

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"lukechampine.com/blake3"
)

// ContentHash returns a hex blake3 digest of the conversation's segments and
// duration. Two conversations with the same timing and text hash equally.
func ContentHash(c Conversation) (string, error) {
	h := blake3.New(32, nil)
	enc := json.NewEncoder(h)
	if err := enc.Encode(c.DurationMs); err != nil {
		return "", fmt.Errorf("calculating content hash: %w", err)
	}
	if err := enc.Encode(c.Segments); err != nil {
		return "", fmt.Errorf("calculating content hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
