// Package qr turns scanned product codes into batch identifiers.
package qr

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

var ErrEmptyPayload = errors.New("QR payload is empty")

// ParsePayload extracts a batch id from decoded QR text. The text is either a
// bare batch id or a JSON object carrying one under batchId, batch_id or id.
func ParsePayload(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyPayload
	}
	if strings.HasPrefix(text, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err == nil {
			for _, key := range []string{"batchId", "batch_id", "id"} {
				if id := scalar(obj[key]); id != "" {
					return id, nil
				}
			}
			return "", fmt.Errorf("QR payload has no batch id")
		}
	}
	return text, nil
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%v", t)
	default:
		return ""
	}
}

// DecodeImage reads a PNG, JPEG or GIF image and returns the text of the QR
// code in it.
func DecodeImage(r io.Reader) (string, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("binarize image: %w", err)
	}
	hints := map[gozxing.DecodeHintType]interface{}{gozxing.DecodeHintType_TRY_HARDER: true}
	res, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", fmt.Errorf("no QR code found: %w", err)
	}
	return res.GetText(), nil
}

// DecodeBatchID decodes an image and parses its payload.
func DecodeBatchID(r io.Reader) (string, error) {
	text, err := DecodeImage(r)
	if err != nil {
		return "", err
	}
	return ParsePayload(text)
}
