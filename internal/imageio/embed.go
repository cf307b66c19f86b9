package imageio

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/dunamismax/pixelnorm/internal/domain"
)

const (
	maxJPEGSegment  = 65533
	maxICCChunk     = maxJPEGSegment - 14
	pngIHDREnd      = 8 + 4 + 4 + 13 + 4
	iccProfileName  = "ICC Profile"
	maxPNGKeyLength = 79
)

// Embed inserts the ICC profile, EXIF block and text entries of img into an
// encoded JPEG or PNG stream. Other formats are returned unchanged.
func Embed(data []byte, format domain.Format, img *domain.Image) ([]byte, error) {
	if img == nil || !img.HasMetadata() {
		return data, nil
	}

	icc := img.ICCProfile
	if !profileMatchesMode(icc, img.Mode) {
		icc = nil
	}
	var exifBlock []byte
	if len(img.EXIF) > 0 {
		exifBlock = ResetOrientation(img.EXIF)
	}

	switch format {
	case domain.FormatJPEG:
		return embedJPEG(data, icc, exifBlock, img.Text)
	case domain.FormatPNG:
		return embedPNG(data, icc, exifBlock, img.Text)
	default:
		return data, nil
	}
}

func embedJPEG(data, icc, exifBlock []byte, text map[string]string) ([]byte, error) {
	if len(data) < 4 || data[0] != 0xff || data[1] != 0xd8 {
		return nil, errors.New("embed: invalid JPEG SOI")
	}

	insertAt := 2
	if data[2] == 0xff && data[3] == 0xe0 && len(data) >= 6 {
		insertAt = 4 + int(binary.BigEndian.Uint16(data[4:6]))
		if insertAt > len(data) {
			return nil, errors.New("embed: truncated JPEG APP0")
		}
	}

	var segments bytes.Buffer
	if len(exifBlock) > 0 {
		payload := append(bytes.Clone(jpegExifHeader), exifBlock...)
		if len(payload) <= maxJPEGSegment {
			writeJPEGSegment(&segments, 0xe1, payload)
		}
	}
	if len(icc) > 0 {
		total := (len(icc) + maxICCChunk - 1) / maxICCChunk
		if total <= 255 {
			for i := 0; i < total; i++ {
				chunk := icc[i*maxICCChunk : min((i+1)*maxICCChunk, len(icc))]
				payload := make([]byte, 0, len(jpegICCHeader)+2+len(chunk))
				payload = append(payload, jpegICCHeader...)
				payload = append(payload, byte(i+1), byte(total))
				payload = append(payload, chunk...)
				writeJPEGSegment(&segments, 0xe2, payload)
			}
		}
	}
	if comment, ok := text["Comment"]; ok && comment != "" && len(comment) <= maxJPEGSegment {
		writeJPEGSegment(&segments, 0xfe, []byte(comment))
	}

	out := make([]byte, 0, len(data)+segments.Len())
	out = append(out, data[:insertAt]...)
	out = append(out, segments.Bytes()...)
	out = append(out, data[insertAt:]...)
	return out, nil
}

func writeJPEGSegment(buf *bytes.Buffer, marker byte, payload []byte) {
	buf.Write([]byte{0xff, marker})
	_ = binary.Write(buf, binary.BigEndian, uint16(len(payload)+2))
	buf.Write(payload)
}

func embedPNG(data, icc, exifBlock []byte, text map[string]string) ([]byte, error) {
	if !bytes.HasPrefix(data, pngSig) || len(data) < pngIHDREnd || string(data[12:16]) != "IHDR" {
		return nil, errors.New("embed: invalid PNG header")
	}

	var chunks bytes.Buffer
	if len(icc) > 0 {
		var compressed bytes.Buffer
		zw := zlib.NewWriter(&compressed)
		if _, err := zw.Write(icc); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		body := append([]byte(iccProfileName), 0, 0)
		body = append(body, compressed.Bytes()...)
		writePNGChunk(&chunks, "iCCP", body)
	}
	if len(exifBlock) > 0 {
		writePNGChunk(&chunks, "eXIf", exifBlock)
	}
	for _, key := range sortedKeys(text) {
		if len(key) == 0 || len(key) > maxPNGKeyLength {
			continue
		}
		body := append([]byte(key), 0)
		body = append(body, text[key]...)
		writePNGChunk(&chunks, "tEXt", body)
	}

	out := make([]byte, 0, len(data)+chunks.Len())
	out = append(out, data[:pngIHDREnd]...)
	out = append(out, chunks.Bytes()...)
	out = append(out, data[pngIHDREnd:]...)
	return out, nil
}

func writePNGChunk(buf *bytes.Buffer, name string, body []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(body)))
	crc := crc32.NewIEEE()
	crc.Write([]byte(name))
	crc.Write(body)
	buf.WriteString(name)
	buf.Write(body)
	_ = binary.Write(buf, binary.BigEndian, crc.Sum32())
}

// profileMatchesMode reports whether an ICC profile can describe samples of
// the given mode. Gray profiles only fit gray output; RGB profiles fit rgb and
// rgba.
func profileMatchesMode(profile []byte, mode domain.PixelMode) bool {
	switch iccColorSpace(profile) {
	case "GRAY":
		return mode == domain.PixelModeGray
	case "RGB":
		return mode == domain.PixelModeRGB || mode == domain.PixelModeRGBA
	default:
		return false
	}
}

func iccColorSpace(profile []byte) string {
	if len(profile) < 20 {
		return ""
	}
	return string(bytes.TrimRight(profile[16:20], " \x00"))
}
