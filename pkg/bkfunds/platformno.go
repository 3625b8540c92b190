package bkfunds

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var platformNoSeq atomic.Uint64

// NewPlatformNo mints a unique request number for one platform attempt.
// Numbers are never reused across retries of the same logical operation so a
// lost response can never be confused with a duplicate request. Shape:
//
//	SPLIT_<KIND>_<yyyyMMddHHmmss>_<seq>_<rand>
func NewPlatformNo(kind string) string {
	seq := platformNoSeq.Add(1) % 1000
	rand := strings.ToUpper(uuid.NewString()[:4])
	kind = strings.ToUpper(strings.TrimSpace(kind))
	if kind == "" {
		kind = "GEN"
	}
	return fmt.Sprintf("SPLIT_%s_%s_%03d_%s", kind, time.Now().Format("20060102150405"), seq, rand)
}
