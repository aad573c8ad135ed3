package playlist

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
)

// Variant is the rendition chosen from a master playlist. URI is the reference
// exactly as written in the playlist; callers resolve it against the master's base URL.
type Variant struct {
	URI          string
	Bandwidth    int64
	HasBandwidth bool
}

var bandwidthPattern = regexp.MustCompile(`(?:^|[:,])BANDWIDTH=(\d+)`)

// SelectVariant picks the rendition with the highest BANDWIDTH from a master
// playlist, keeping the first one seen on a tie. I-frame-only renditions are
// never chosen. When no #EXT-X-STREAM-INF entry carries a URI, the first
// #EXT-X-MEDIA URI is used instead. ok is false when the master references
// nothing at all.
func SelectVariant(content string) (Variant, bool) {
	if v, ok := selectDecoded(content); ok {
		return v, true
	}
	if v, ok := scanStreamInf(content); ok {
		return v, true
	}
	if uri, ok := scanMediaURI(content); ok {
		return Variant{URI: uri}, true
	}
	return Variant{}, false
}

// selectDecoded chooses a variant from the decoded master playlist. The
// decoder keeps BANDWIDTH as uint32, so the value written on the line wins
// whenever the line scan found one.
func selectDecoded(content string) (Variant, bool) {
	p, listType, err := m3u8.DecodeFrom(strings.NewReader(content), false)
	if err != nil || listType != m3u8.MASTER {
		return Variant{}, false
	}
	master, ok := p.(*m3u8.MasterPlaylist)
	if !ok {
		return Variant{}, false
	}

	lineBandwidth := make(map[string]int64)
	for _, v := range streamInfEntries(content) {
		if _, seen := lineBandwidth[v.URI]; !seen && v.HasBandwidth {
			lineBandwidth[v.URI] = v.Bandwidth
		}
	}

	var (
		best  Variant
		found bool
	)
	for _, v := range master.Variants {
		if v == nil || v.Iframe {
			continue
		}
		uri := strings.TrimSpace(v.URI)
		if uri == "" {
			continue
		}
		bw, has := lineBandwidth[uri]
		if !has {
			bw, has = int64(v.Bandwidth), v.Bandwidth > 0
		}
		if !found || bw > best.Bandwidth {
			best = Variant{URI: uri, Bandwidth: bw, HasBandwidth: has}
			found = true
		}
	}
	return best, found
}

// scanStreamInf applies the same policy line by line, for masters the decoder
// rejects.
func scanStreamInf(content string) (Variant, bool) {
	var (
		best  Variant
		found bool
	)
	for _, v := range streamInfEntries(content) {
		if !found || v.Bandwidth > best.Bandwidth {
			best = v
			found = true
		}
	}
	return best, found
}

// streamInfEntries returns every #EXT-X-STREAM-INF entry that is followed by a
// URI line, in playlist order.
func streamInfEntries(content string) []Variant {
	var (
		entries []Variant
		pending *Variant
	)

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, tagStreamInf+":") || line == tagStreamInf:
			pending = &Variant{}
			if m := bandwidthPattern.FindStringSubmatch(line); m != nil {
				if bw, err := strconv.ParseInt(m[1], 10, 64); err == nil {
					pending.Bandwidth = bw
					pending.HasBandwidth = true
				}
			}
		case strings.HasPrefix(line, "#"):
			continue
		case pending != nil:
			pending.URI = line
			entries = append(entries, *pending)
			pending = nil
		}
	}
	return entries
}

// scanMediaURI returns the first URI attribute on an #EXT-X-MEDIA line.
func scanMediaURI(content string) (string, bool) {
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, tagMediaAttrs) {
			continue
		}
		if m := uriAttrPattern.FindStringSubmatch(line); m != nil && m[1] != "" {
			return m[1], true
		}
	}
	return "", false
}
