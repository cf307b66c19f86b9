package imageio

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Metadata is the auxiliary data carried next to the pixels of a container.
type Metadata struct {
	ICC  []byte
	EXIF []byte
	Text map[string]string
}

var (
	jpegExifHeader = []byte("Exif\x00\x00")
	jpegICCHeader  = []byte("ICC_PROFILE\x00")
)

const maxDecompressedChunk = 16 << 20

func ReadMetadata(data []byte) (Metadata, error) {
	switch Sniff(data) {
	case KindJPEG:
		return readJPEGMetadata(data)
	case KindPNG:
		return readPNGMetadata(data)
	case KindWebP:
		return readWebPMetadata(data)
	default:
		return Metadata{}, nil
	}
}

func readJPEGMetadata(data []byte) (Metadata, error) {
	var meta Metadata
	if len(data) < 4 || data[0] != 0xff || data[1] != 0xd8 {
		return meta, errors.New("invalid JPEG SOI")
	}

	iccChunks := make(map[int][]byte)
	iccTotal := 0

	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xff {
			return meta, fmt.Errorf("expected JPEG marker at offset %d", pos)
		}
		marker := data[pos+1]
		if marker == 0xff {
			pos++
			continue
		}
		pos += 2

		if marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7) {
			continue
		}
		if marker == 0xd9 || marker == 0xda { // EOI, SOS
			break
		}

		segLen := int(binary.BigEndian.Uint16(data[pos:]))
		if segLen < 2 || pos+segLen > len(data) {
			return meta, errors.New("invalid JPEG segment length")
		}
		payload := data[pos+2 : pos+segLen]
		pos += segLen

		switch marker {
		case 0xe1:
			if bytes.HasPrefix(payload, jpegExifHeader) && meta.EXIF == nil {
				meta.EXIF = bytes.Clone(payload[len(jpegExifHeader):])
			}
		case 0xe2:
			if bytes.HasPrefix(payload, jpegICCHeader) && len(payload) > len(jpegICCHeader)+2 {
				seq := int(payload[len(jpegICCHeader)])
				iccTotal = int(payload[len(jpegICCHeader)+1])
				iccChunks[seq] = payload[len(jpegICCHeader)+2:]
			}
		case 0xfe:
			if len(payload) > 0 {
				if meta.Text == nil {
					meta.Text = make(map[string]string)
				}
				meta.Text["Comment"] = string(payload)
			}
		}
	}

	if iccTotal > 0 && len(iccChunks) == iccTotal {
		var profile bytes.Buffer
		for seq := 1; seq <= iccTotal; seq++ {
			chunk, ok := iccChunks[seq]
			if !ok {
				profile.Reset()
				break
			}
			profile.Write(chunk)
		}
		if profile.Len() > 0 {
			meta.ICC = profile.Bytes()
		}
	}

	return meta, nil
}

func readPNGMetadata(data []byte) (Metadata, error) {
	var meta Metadata
	if !bytes.HasPrefix(data, pngSig) {
		return meta, errors.New("invalid PNG signature")
	}

	pos := len(pngSig)
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos:]))
		chunkName := string(data[pos+4 : pos+8])
		start := pos + 8
		end := start + length
		if length < 0 || end+4 > len(data) {
			return meta, fmt.Errorf("truncated PNG chunk %s", chunkName)
		}
		body := data[start:end]
		pos = end + 4

		switch chunkName {
		case "iCCP":
			idx := bytes.IndexByte(body, 0)
			if idx <= 0 || idx+2 > len(body) {
				continue
			}
			profile, err := inflate(body[idx+2:])
			if err == nil {
				meta.ICC = profile
			}
		case "eXIf":
			meta.EXIF = bytes.Clone(body)
		case "tEXt":
			if key, value, ok := bytes.Cut(body, []byte{0}); ok && len(key) > 0 {
				meta.setText(string(key), string(value))
			}
		case "zTXt":
			key, rest, ok := bytes.Cut(body, []byte{0})
			if !ok || len(key) == 0 || len(rest) < 1 {
				continue
			}
			if value, err := inflate(rest[1:]); err == nil {
				meta.setText(string(key), string(value))
			}
		case "iTXt":
			if key, value, ok := parseITXt(body); ok {
				meta.setText(key, value)
			}
		case "IEND":
			return meta, nil
		}
	}

	return meta, nil
}

func parseITXt(body []byte) (string, string, bool) {
	key, rest, ok := bytes.Cut(body, []byte{0})
	if !ok || len(key) == 0 || len(rest) < 2 {
		return "", "", false
	}
	compressed := rest[0] == 1
	rest = rest[2:]
	_, rest, ok = bytes.Cut(rest, []byte{0}) // language tag
	if !ok {
		return "", "", false
	}
	_, rest, ok = bytes.Cut(rest, []byte{0}) // translated keyword
	if !ok {
		return "", "", false
	}
	if !compressed {
		return string(key), string(rest), true
	}
	value, err := inflate(rest)
	if err != nil {
		return "", "", false
	}
	return string(key), string(value), true
}

func readWebPMetadata(data []byte) (Metadata, error) {
	var meta Metadata
	if len(data) < 12 {
		return meta, errors.New("invalid WebP header")
	}

	pos := 12
	for pos+8 <= len(data) {
		fourCC := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4:]))
		start := pos + 8
		end := start + size
		if size < 0 || end > len(data) {
			return meta, fmt.Errorf("truncated WebP chunk %s", fourCC)
		}
		body := data[start:end]

		switch fourCC {
		case "ICCP":
			meta.ICC = bytes.Clone(body)
		case "EXIF":
			meta.EXIF = bytes.Clone(bytes.TrimPrefix(body, jpegExifHeader))
		}

		pos = end + size%2
	}

	return meta, nil
}

func (m *Metadata) setText(key, value string) {
	if m.Text == nil {
		m.Text = make(map[string]string)
	}
	m.Text[key] = value
}

func inflate(compressed []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxDecompressedChunk))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
