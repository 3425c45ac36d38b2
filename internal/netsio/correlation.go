package netsio

import (
	"encoding/hex"
	"net"

	"golang.org/x/crypto/blake2b"
)

// CorrelationTag derives a short, stable hex tag from a peer address. The
// connection manager logs it as conn_tag, next to the peer address, when a
// hub connects, so multi-hub deployments can tell sessions apart in logs.
func CorrelationTag(peer net.Addr) string {
	if peer == nil {
		return ""
	}
	sum := blake2b.Sum256([]byte(peer.String()))
	return hex.EncodeToString(sum[:6])
}
