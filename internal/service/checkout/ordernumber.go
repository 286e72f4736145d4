package checkout

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	orderNumberPrefix   = "ORD-"
	orderNumberAttempts = 5
)

// GenerateOrderNumber returns ORD-<yyyymmddHHMMSS>-<10 hex>. The suffix is
// 40 random bits from a v4 uuid; collisions are caught by the unique index
// and retried.
func GenerateOrderNumber(now time.Time) string {
	id := uuid.New()
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))[:10]
	return orderNumberPrefix + now.UTC().Format("20060102150405") + "-" + suffix
}
