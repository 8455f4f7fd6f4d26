package qr

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	cases := map[string]string{
		"BATCH-001":                       "BATCH-001",
		"  BATCH-002 \n":                  "BATCH-002",
		`{"batchId":"B-3","sensor":"s1"}`: "B-3",
		`{"batch_id":"B-4"}`:              "B-4",
		`{"id":"B-5"}`:                    "B-5",
		`{"id":42}`:                       "42",
		`{not json`:                       "{not json",
	}
	for in, want := range cases {
		got, err := ParsePayload(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParsePayload("   ")
	require.ErrorIs(t, err, ErrEmptyPayload)
	_, err = ParsePayload(`{"product":"apples"}`)
	require.Error(t, err)
}

func encodePNG(t *testing.T, text string) []byte {
	t.Helper()
	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 200, 200, nil)
	require.NoError(t, err)
	img := image.NewGray(image.Rect(0, 0, matrix.GetWidth(), matrix.GetHeight()))
	for y := 0; y < matrix.GetHeight(); y++ {
		for x := 0; x < matrix.GetWidth(); x++ {
			c := color.Gray{Y: 255}
			if matrix.Get(x, y) {
				c = color.Gray{Y: 0}
			}
			img.SetGray(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeBatchIDFromImage(t *testing.T) {
	data := encodePNG(t, `{"batchId":"APPLE-CHILD-001"}`)
	id, err := DecodeBatchID(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "APPLE-CHILD-001", id)
}

func TestDecodeImageWithoutCode(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 50, 50))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	_, err := DecodeImage(&buf)
	require.Error(t, err)

	_, err = DecodeImage(bytes.NewReader([]byte("not an image")))
	require.Error(t, err)
}
