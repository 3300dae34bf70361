package runtime

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// computeDecisionID derives a stable id for one (exchange, symbol,
// snapshot) decision cycle, so re-running the loop against an
// already-closed bar never appends a duplicate decision-cycle row.
// Grounded on _decision_id: sha1 hex of the pipe-joined identity,
// truncated to 20 characters.
func computeDecisionID(exchangeID, symbol, snapshotID string, snapshotTimeUTC int64) string {
	payload := fmt.Sprintf("%s|%s|%s|%d", exchangeID, symbol, snapshotID, snapshotTimeUTC)
	sum := sha1.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])[:20]
}
