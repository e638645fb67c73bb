package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// GenerateULID returns a prefixed, lexicographically sortable identifier,
// e.g. dep_01J8ZK3V9Q....
func GenerateULID(prefix string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	return prefix + "_" + id.String()
}

// GenerateOrderRef builds the order reference sent to payment gateways.
// Short enough for every provider's order_id limits, unique enough per user.
func GenerateOrderRef(prefix string) string {
	ts := time.Now().UnixNano() / 1e6
	tsHex := fmt.Sprintf("%06x", ts&0xFFFFFF)

	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}

	return fmt.Sprintf("%s%s%s", prefix, tsHex, hex.EncodeToString(b))
}
