package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/ppd/internal/glob"
	"github.com/agentic-research/ppd/internal/store"
)

// splitPair splits "key:value" on the first colon and trims both halves.
func splitPair(s string) (string, string, error) {
	k, v, ok := strings.Cut(s, ":")
	if !ok {
		return "", "", fmt.Errorf("%q: expected key:value", s)
	}
	k = strings.TrimSpace(k)
	if k == "" {
		return "", "", fmt.Errorf("%q: empty key", s)
	}
	return k, strings.TrimSpace(v), nil
}

// parseMetadata turns key:value arguments into a record. Values stay strings.
func parseMetadata(args []string) (store.Record, error) {
	rec := store.Record{}
	for _, a := range args {
		k, v, err := splitPair(a)
		if err != nil {
			return nil, err
		}
		rec[k] = v
	}
	return rec, nil
}

// parseFilter turns key:glob arguments into a pattern. No arguments yields
// an empty pattern, which matches every record.
func parseFilter(args []string) (glob.Pattern, error) {
	p := glob.Pattern{}
	for _, a := range args {
		k, v, err := splitPair(a)
		if err != nil {
			return nil, err
		}
		p[k] = v
	}
	return p, nil
}

// parseIDs parses positional record ids into a set, keeping them sorted and
// distinct.
func parseIDs(args []string) (*roaring.Bitmap, error) {
	ids := roaring.New()
	for _, a := range args {
		id, err := strconv.ParseUint(a, 10, 32)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("%q: not a record id", a)
		}
		ids.Add(uint32(id))
	}
	return ids, nil
}
