package blacklist

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// On-disk layout, one record per line, two whitespace-separated fields:
//
//	version	1
//	salt	<64 hex digits>
//	<digest hex>	<prefix length>
//
// Blank lines and lines starting with '#' are ignored. Files without a
// version line are version 0 and hold only unsalted SHA-1 digests.

const (
	// FormatVersion is the version written by Save.
	FormatVersion = 1

	keyVersion = "version"
	keySalt    = "salt"
)

type document struct {
	version int
	salt    []byte
	entries []Entry
}

func decode(r io.Reader) (*document, error) {
	doc := &document{}
	seen := make(map[string]bool)
	sawVersion := false
	lineNo := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, corruptf(lineNo, "expected 2 fields, got %d", len(fields))
		}

		switch fields[0] {
		case keyVersion:
			if sawVersion {
				return nil, corruptf(lineNo, "duplicate version line")
			}
			v, err := strconv.Atoi(fields[1])
			if err != nil || v < 1 {
				return nil, corruptf(lineNo, "invalid version %q", fields[1])
			}
			if v > FormatVersion {
				return nil, corruptf(lineNo, "unsupported version %d (newest known is %d)", v, FormatVersion)
			}
			doc.version = v
			sawVersion = true
		case keySalt:
			if doc.salt != nil {
				return nil, corruptf(lineNo, "duplicate salt line")
			}
			salt, err := hex.DecodeString(fields[1])
			if err != nil || len(salt) != saltSize {
				return nil, corruptf(lineNo, "salt must be %d hex digits", saltSize*2)
			}
			doc.salt = salt
		default:
			digest, err := hex.DecodeString(fields[0])
			if err != nil {
				return nil, corruptf(lineNo, "digest is not hexadecimal")
			}
			if len(digest) != digestSize && len(digest) != legacyDigestSize {
				return nil, corruptf(lineNo, "digest has %d hex digits, want %d or %d",
					len(fields[0]), digestSize*2, legacyDigestSize*2)
			}
			length, err := strconv.Atoi(fields[1])
			if err != nil || length < 1 {
				return nil, corruptf(lineNo, "invalid prefix length %q", fields[1])
			}
			e := Entry{Digest: digest, Length: length}
			if seen[e.key()] {
				continue
			}
			seen[e.key()] = true
			doc.entries = append(doc.entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrCorrupt, err)
	}

	if doc.salt != nil && doc.version == 0 {
		return nil, fmt.Errorf("%w: salt present without a version line", ErrCorrupt)
	}
	for _, e := range doc.entries {
		if !e.Legacy() && doc.salt == nil {
			return nil, fmt.Errorf("%w: salted digest present but no salt recorded", ErrCorrupt)
		}
	}

	sortEntries(doc.entries)
	return doc, nil
}

// encode writes entries longest prefix first.
func encode(doc *document) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\t%d\n", keyVersion, FormatVersion)
	if doc.salt != nil {
		fmt.Fprintf(&buf, "%s\t%s\n", keySalt, hex.EncodeToString(doc.salt))
	}

	entries := slices.Clone(doc.entries)
	sortEntries(entries)
	slices.Reverse(entries)
	for _, e := range entries {
		fmt.Fprintf(&buf, "%s\t%d\n", hex.EncodeToString(e.Digest), e.Length)
	}
	return buf.Bytes()
}

func corruptf(line int, format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrCorrupt, line, fmt.Sprintf(format, args...))
}
