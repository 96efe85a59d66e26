package extractor

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// textStrategy is a charset-aware passthrough for plain-text documents.
type textStrategy struct{}

var _ Strategy = (*textStrategy)(nil)

func (s *textStrategy) Extract(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty text file")
	}

	text, err := decodeText(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode text file: %w", err)
	}

	text = cleanText(text)

	if text == "" {
		return "", fmt.Errorf("no text could be extracted from file")
	}

	return text, nil
}

func decodeText(data []byte) (string, error) {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return string(data[3:]), nil
	}

	if len(data) >= 2 && data[0] == 0xFF && data[1] == 0xFE {
		decoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		decoded, _, err := transform.Bytes(decoder, data)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	}

	if len(data) >= 2 && data[0] == 0xFE && data[1] == 0xFF {
		decoder := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
		decoded, _, err := transform.Bytes(decoder, data)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	}

	if utf8.Valid(data) {
		return string(data), nil
	}

	decoder := charmap.Windows1252.NewDecoder()
	decoded, _, err := transform.Bytes(decoder, data)
	if err == nil {
		return string(decoded), nil
	}

	decoder = charmap.ISO8859_1.NewDecoder()
	decoded, _, err = transform.Bytes(decoder, data)
	if err == nil {
		return string(decoded), nil
	}

	return string(data), nil
}

func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = strings.ReplaceAll(text, "\x00", "")

	lines := strings.Split(text, "\n")

	var cleanedLines []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleanedLines = append(cleanedLines, line)
		}
	}

	result := strings.Join(cleanedLines, "\n")

	return strings.TrimSpace(result)
}
