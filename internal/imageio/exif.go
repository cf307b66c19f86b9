package imageio

import (
	"bytes"
	"encoding/binary"

	exif "github.com/dsoprea/go-exif/v3"
)

const orientationTagID = 0x0112

// Orientation reports the EXIF orientation (1..8) of a raw TIFF-structured
// EXIF block. Missing, malformed or out of range values read as 0.
func Orientation(raw []byte) (orientation int) {
	if len(raw) < 8 {
		return 0
	}
	defer func() {
		if r := recover(); r != nil {
			orientation = 0
		}
	}()

	tags, _, err := exif.GetFlatExifDataUniversalSearchWithReadSeeker(bytes.NewReader(raw), nil, false)
	if err != nil {
		return 0
	}

	for _, tag := range tags {
		if tag.TagId != orientationTagID {
			continue
		}
		var value int
		switch v := tag.Value.(type) {
		case []uint16:
			if len(v) > 0 {
				value = int(v[0])
			}
		case []uint32:
			if len(v) > 0 {
				value = int(v[0])
			}
		}
		if value >= 1 && value <= 8 {
			return value
		}
		return 0
	}
	return 0
}

// ResetOrientation returns a copy of raw with the IFD0 orientation entry set
// to 1. Blocks without an orientation entry are returned unchanged.
func ResetOrientation(raw []byte) []byte {
	out := bytes.Clone(raw)
	if len(out) < 8 {
		return out
	}

	var order binary.ByteOrder
	switch string(out[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return out
	}

	ifd := int(order.Uint32(out[4:8]))
	if ifd+2 > len(out) {
		return out
	}
	count := int(order.Uint16(out[ifd:]))
	for i := 0; i < count; i++ {
		entry := ifd + 2 + i*12
		if entry+12 > len(out) {
			return out
		}
		if order.Uint16(out[entry:]) != orientationTagID {
			continue
		}
		// SHORT, count 1: the value sits left-justified in the offset field.
		order.PutUint16(out[entry+2:], 3)
		order.PutUint32(out[entry+4:], 1)
		clear(out[entry+8 : entry+12])
		order.PutUint16(out[entry+8:], 1)
		return out
	}
	return out
}
