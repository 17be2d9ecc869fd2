package constellation

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"stratoscope/pkg/model"
)

var (
	tokenNegInf = []byte("-Infinity")
	tokenPosInf = []byte("Infinity")
	tokenNaN    = []byte("NaN")
	tokenNull   = []byte("null")
)

// sanitize rewrites bare non-finite number literals into null so the stream
// decoder survives them. The feed carries no string values, so a blind byte
// replacement cannot corrupt anything else.
func sanitize(body []byte) []byte {
	if !bytes.Contains(body, tokenNaN) && !bytes.Contains(body, tokenPosInf) {
		return body
	}
	clean := bytes.ReplaceAll(body, tokenNegInf, tokenNull)
	clean = bytes.ReplaceAll(clean, tokenPosInf, tokenNull)
	return bytes.ReplaceAll(clean, tokenNaN, tokenNull)
}

// parseFeed decodes one upstream hour document into samples keyed by balloon
// index. Entries that are not 3-element finite-number arrays, or whose
// coordinates stay out of range after a single wraparound, are dropped and
// counted. A document truncated mid-entry keeps everything decoded before the
// cut. Only a document with no parsable array at all returns an error.
func parseFeed(body []byte) (map[int]model.Sample, int, error) {
	dec := json.NewDecoder(bytes.NewReader(sanitize(body)))

	tok, err := dec.Token()
	if err != nil {
		return nil, 0, fmt.Errorf("feed document unreadable: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, 0, fmt.Errorf("feed document is not an array (got %v)", tok)
	}

	samples := make(map[int]model.Sample)
	rejected := 0
	index := 0
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			// Truncated mid-entry; keep what decoded so far.
			rejected++
			break
		}
		if sample, ok := parseEntry(raw); ok {
			samples[index] = sample
		} else {
			rejected++
		}
		index++
	}
	return samples, rejected, nil
}

// parseEntry validates one [lat, lon, alt] entry. Longitude gets a single
// wraparound pass, matching the antimeridian handling downstream; anything
// still out of range after that is corrupt, not wrapped again.
func parseEntry(raw json.RawMessage) (model.Sample, bool) {
	var coords []*float64
	if err := json.Unmarshal(raw, &coords); err != nil {
		return model.Sample{}, false
	}
	if len(coords) != 3 {
		return model.Sample{}, false
	}
	for _, c := range coords {
		if c == nil || math.IsNaN(*c) || math.IsInf(*c, 0) {
			return model.Sample{}, false
		}
	}

	lat, lon, alt := *coords[0], *coords[1], *coords[2]
	if lat < -90 || lat > 90 {
		return model.Sample{}, false
	}
	if lon > 180 {
		lon -= 360
	} else if lon < -180 {
		lon += 360
	}
	if lon < -180 || lon > 180 {
		return model.Sample{}, false
	}

	return model.Sample{Lat: lat, Lon: lon, Alt: alt}, true
}

// contentHash fingerprints a raw feed document for change detection across
// refreshes.
func contentHash(body []byte) string {
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:])
}
