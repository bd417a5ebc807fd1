package live

import (
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// sentAtFields are checked in order at the payload root, then under metadata.
var sentAtFields = []string{"clientSentAt", "client_sent_at", "sentAt", "sent_at", "timestamp", "ts"}

// Numeric timestamps below this are taken as epoch seconds rather than millis.
const secondsCutoff = 1e11

type staleVerdict struct {
	Drop  bool
	Found bool
	Age   time.Duration
}

// checkStaleChunk decides whether a media chunk is too old to forward. A chunk
// with no recognizable send time is always kept, as is every chunk when maxAge
// is not positive.
func checkStaleChunk(payload []byte, now time.Time, maxAge time.Duration) staleVerdict {
	if maxAge <= 0 {
		return staleVerdict{}
	}
	sentAt, ok := claimedSendTime(payload)
	if !ok {
		return staleVerdict{}
	}
	age := now.Sub(sentAt)
	return staleVerdict{Drop: age > maxAge, Found: true, Age: age}
}

func claimedSendTime(payload []byte) (time.Time, bool) {
	if len(payload) == 0 {
		return time.Time{}, false
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return time.Time{}, false
	}
	for _, scope := range []gjson.Result{root, root.Get("metadata")} {
		if !scope.IsObject() {
			continue
		}
		for _, field := range sentAtFields {
			if t, ok := parseSendTime(scope.Get(field)); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func parseSendTime(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.Number:
		return fromEpoch(v.Float())
	case gjson.String:
		if t, err := time.Parse(time.RFC3339Nano, v.Str); err == nil {
			return t, true
		}
		if f, err := strconv.ParseFloat(v.Str, 64); err == nil {
			return fromEpoch(f)
		}
	}
	return time.Time{}, false
}

func fromEpoch(f float64) (time.Time, bool) {
	if f <= 0 {
		return time.Time{}, false
	}
	if f < secondsCutoff {
		f *= 1000
	}
	return time.UnixMilli(int64(f)), true
}
