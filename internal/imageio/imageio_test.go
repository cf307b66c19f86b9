package imageio

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exifWithOrientation builds a little-endian TIFF block holding a single
// IFD0 orientation entry.
func exifWithOrientation(orientation uint16) []byte {
	var buf bytes.Buffer
	buf.WriteString("II")
	_ = binary.Write(&buf, binary.LittleEndian, uint16(42))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(orientationTagID))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(3))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(1))
	_ = binary.Write(&buf, binary.LittleEndian, orientation)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(0))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func fakeProfile(space string, size int) []byte {
	profile := make([]byte, size)
	binary.BigEndian.PutUint32(profile, uint32(size))
	copy(profile[16:20], space)
	copy(profile[36:40], "acsp")
	for i := 128; i < size; i++ {
		profile[i] = byte(i)
	}
	return profile
}

func TestSniff(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	assert.Equal(t, KindPNG, Sniff(encodePNG(t, gray)))
	assert.Equal(t, KindJPEG, Sniff(encodeJPEG(t, gray)))
	assert.Equal(t, KindWebP, Sniff([]byte("RIFF\x00\x00\x00\x00WEBPVP8 ")))
	assert.Equal(t, KindGIF, Sniff([]byte("GIF89a....")))
	assert.Equal(t, KindUnknown, Sniff([]byte("hello")))
}

func TestDecodeModes(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 3, 2))
	decoded, err := Decode(encodePNG(t, gray))
	require.NoError(t, err)
	assert.Equal(t, domain.PixelModeGray, decoded.Mode)
	assert.Equal(t, 3, decoded.Width())
	assert.Equal(t, 2, decoded.Height())
	assert.Equal(t, "png", decoded.SourceFormat)

	nrgba := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	nrgba.SetNRGBA(1, 1, color.NRGBA{R: 10, A: 100})
	decoded, err = Decode(encodePNG(t, nrgba))
	require.NoError(t, err)
	assert.Equal(t, domain.PixelModeRGBA, decoded.Mode)

	palette := color.Palette{color.Black, color.White}
	decoded, err = Decode(encodePNG(t, image.NewPaletted(image.Rect(0, 0, 2, 2), palette)))
	require.NoError(t, err)
	assert.Equal(t, domain.PixelModeIndexed, decoded.Mode)

	rgb := image.NewRGBA(image.Rect(0, 0, 8, 8))
	data := encodeJPEG(t, rgb)
	decoded, err = Decode(data)
	require.NoError(t, err)
	assert.Equal(t, domain.PixelModeRGB, decoded.Mode)
	assert.IsType(t, &image.NRGBA{}, decoded.Pixels)
	assert.Equal(t, len(data), decoded.SourceBytes)
}

func TestDecodeOpaqueTruecolorIsRGB(t *testing.T) {
	opaque := image.NewRGBA(image.Rect(0, 0, 5, 3))
	for i := range opaque.Pix {
		opaque.Pix[i] = 255
	}
	decoded, err := Decode(encodePNG(t, opaque))
	require.NoError(t, err)
	assert.Equal(t, domain.PixelModeRGB, decoded.Mode)
	assert.False(t, decoded.HasAlpha())

	translucent := image.NewRGBA(image.Rect(0, 0, 5, 3))
	translucent.SetRGBA(2, 1, color.RGBA{R: 40, A: 80})
	decoded, err = Decode(encodePNG(t, translucent))
	require.NoError(t, err)
	assert.Equal(t, domain.PixelModeRGBA, decoded.Mode)

	deep := image.NewRGBA64(image.Rect(0, 0, 2, 2))
	for i := range deep.Pix {
		deep.Pix[i] = 0xff
	}
	pixels, mode := Canonicalize(deep)
	assert.Equal(t, domain.PixelModeRGB, mode)
	assert.IsType(t, &image.NRGBA{}, pixels)
}

// headerOnlyPNG is a PNG signature followed by a lone IHDR chunk declaring
// the given size; it carries no image data.
func headerOnlyPNG(width, height uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	var ihdr bytes.Buffer
	_ = binary.Write(&ihdr, binary.BigEndian, width)
	_ = binary.Write(&ihdr, binary.BigEndian, height)
	ihdr.Write([]byte{8, 6, 0, 0, 0})
	writePNGChunk(&buf, "IHDR", ihdr.Bytes())
	return buf.Bytes()
}

func TestDecodeRejectsOversizedHeader(t *testing.T) {
	_, err := Decode(headerOnlyPNG(60000, 60000))
	require.ErrorIs(t, err, domain.ErrDecode)
	assert.ErrorIs(t, err, domain.ErrTooManyPixels)
	assert.True(t, domain.Fatal(err))

	small := encodePNG(t, image.NewGray(image.Rect(0, 0, 10, 10)))
	_, err = DecodeLimited(small, 99)
	assert.ErrorIs(t, err, domain.ErrTooManyPixels)

	decoded, err := DecodeLimited(small, 100)
	require.NoError(t, err)
	assert.Equal(t, 10, decoded.Width())
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, domain.ErrDecode)

	_, err = Decode([]byte("not an image at all"))
	var decodeErr *domain.DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestOrientation(t *testing.T) {
	for o := uint16(1); o <= 8; o++ {
		assert.Equal(t, int(o), Orientation(exifWithOrientation(o)), "orientation %d", o)
	}
	assert.Equal(t, 0, Orientation(exifWithOrientation(9)))
	assert.Equal(t, 0, Orientation(nil))
	assert.Equal(t, 0, Orientation([]byte("garbage-garbage")))
}

func TestResetOrientation(t *testing.T) {
	raw := exifWithOrientation(6)
	reset := ResetOrientation(raw)
	assert.Equal(t, 1, Orientation(reset))
	assert.Equal(t, 6, Orientation(raw), "input must not be modified")
}

func TestJPEGMetadataRoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	profile := fakeProfile("RGB ", 70000)
	img := &domain.Image{
		Pixels:     src,
		Mode:       domain.PixelModeRGB,
		ICCProfile: profile,
		EXIF:       exifWithOrientation(6),
		Text:       map[string]string{"Comment": "hello"},
	}

	out, err := Embed(encodeJPEG(t, src), domain.FormatJPEG, img)
	require.NoError(t, err)

	meta, err := ReadMetadata(out)
	require.NoError(t, err)
	assert.Equal(t, profile, meta.ICC, "multi-segment ICC must reassemble in order")
	assert.Equal(t, 1, Orientation(meta.EXIF))
	assert.Equal(t, "hello", meta.Text["Comment"])

	_, err = jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
}

func TestPNGMetadataRoundTrip(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	profile := fakeProfile("RGB ", 600)
	img := &domain.Image{
		Pixels:     src,
		Mode:       domain.PixelModeRGBA,
		ICCProfile: profile,
		EXIF:       exifWithOrientation(3),
		Text:       map[string]string{"Title": "t", "Author": "a"},
	}

	out, err := Embed(encodePNG(t, src), domain.FormatPNG, img)
	require.NoError(t, err)

	meta, err := ReadMetadata(out)
	require.NoError(t, err)
	assert.Equal(t, profile, meta.ICC)
	assert.Equal(t, 1, Orientation(meta.EXIF))
	assert.Equal(t, map[string]string{"Title": "t", "Author": "a"}, meta.Text)

	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), decoded.Bounds())
}

func TestEmbedSkipsGrayProfileOnColorOutput(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img := &domain.Image{Pixels: src, Mode: domain.PixelModeRGB, ICCProfile: fakeProfile("GRAY", 256)}

	out, err := Embed(encodePNG(t, src), domain.FormatPNG, img)
	require.NoError(t, err)
	meta, err := ReadMetadata(out)
	require.NoError(t, err)
	assert.Nil(t, meta.ICC)
}

func TestEmbedWebPIsPassthrough(t *testing.T) {
	img := &domain.Image{Pixels: image.NewGray(image.Rect(0, 0, 1, 1)), Mode: domain.PixelModeGray, EXIF: exifWithOrientation(1)}
	data := []byte("RIFF\x04\x00\x00\x00WEBP")
	out, err := Embed(data, domain.FormatWebP, img)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestReadWebPMetadata(t *testing.T) {
	var body bytes.Buffer
	body.WriteString("WEBP")
	writeRIFFChunk := func(name string, payload []byte) {
		body.WriteString(name)
		_ = binary.Write(&body, binary.LittleEndian, uint32(len(payload)))
		body.Write(payload)
		if len(payload)%2 == 1 {
			body.WriteByte(0)
		}
	}
	writeRIFFChunk("VP8X", make([]byte, 10))
	writeRIFFChunk("ICCP", []byte("abc"))
	writeRIFFChunk("EXIF", append([]byte("Exif\x00\x00"), exifWithOrientation(8)...))

	var data bytes.Buffer
	data.WriteString("RIFF")
	_ = binary.Write(&data, binary.LittleEndian, uint32(body.Len()))
	data.Write(body.Bytes())

	meta, err := ReadMetadata(data.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), meta.ICC)
	assert.Equal(t, 8, Orientation(meta.EXIF))
}
