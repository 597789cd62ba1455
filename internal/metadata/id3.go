package metadata

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// ID3v2Tagger reads the artist (TPE1) and album (TALB) frames from an
// ID3v2 header, stdlib-only. No third-party ID3 library was found
// across the retrieved example corpus (see DESIGN.md); this reader is
// intentionally narrow, reading only the two fields the extractor
// needs rather than a general-purpose tag library.
type ID3v2Tagger struct{}

func (ID3v2Tagger) ReadTags(path string) (artist, album string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("id3: open: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header := make([]byte, 10)
	if _, err := readFull(r, header); err != nil {
		return "", "", fmt.Errorf("id3: read header: %w", err)
	}
	if string(header[0:3]) != "ID3" {
		return "", "", fmt.Errorf("id3: no ID3v2 header")
	}
	size := syncSafeInt(header[6:10])
	body := make([]byte, size)
	if _, err := readFull(r, body); err != nil {
		return "", "", fmt.Errorf("id3: read body: %w", err)
	}

	pos := 0
	for pos+10 <= len(body) {
		frameID := string(body[pos : pos+4])
		if frameID == "\x00\x00\x00\x00" {
			break
		}
		frameSize := int(binary.BigEndian.Uint32(body[pos+4 : pos+8]))
		frameStart := pos + 10
		frameEnd := frameStart + frameSize
		if frameEnd > len(body) || frameSize < 0 {
			break
		}
		text := decodeTextFrame(body[frameStart:frameEnd])
		switch frameID {
		case "TPE1":
			artist = text
		case "TALB":
			album = text
		}
		pos = frameEnd
	}
	return artist, album, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func syncSafeInt(b []byte) int {
	return int(b[0])<<21 | int(b[1])<<14 | int(b[2])<<7 | int(b[3])
}

func decodeTextFrame(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	// Encoding byte: 0=ISO-8859-1, 1=UTF-16 w/ BOM, 3=UTF-8. Only the
	// two fields the extractor needs (artist/album) are typically
	// plain text; a best-effort ISO-8859-1/UTF-8 decode covers the
	// common case without pulling in a transcoding library.
	text := b[1:]
	// Strip trailing null terminator if present.
	for len(text) > 0 && text[len(text)-1] == 0 {
		text = text[:len(text)-1]
	}
	return string(text)
}
