package transform

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

var ErrBadDataURL = errors.New("malformed data URL")

// materializeLogo returns a local file holding the logo. The caller removes it.
func (e *Engine) materializeLogo(ctx context.Context, stamp, src string) (string, error) {
	if strings.HasPrefix(src, "data:") {
		data, ext, err := decodeDataURL(src)
		if err != nil {
			return "", err
		}
		path := filepath.Join(e.tmpDir, stamp+"-logo"+ext)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			e.remove(path)
			return "", fmt.Errorf("write logo: %w", err)
		}
		return path, nil
	}

	if e.logos == nil {
		return "", fmt.Errorf("no fetcher configured for logo %q", src)
	}
	path := filepath.Join(e.tmpDir, stamp+"-logo"+remoteExt(src))
	if err := e.logos.FetchToFile(ctx, src, path); err != nil {
		e.remove(path)
		return "", err
	}
	return path, nil
}

// decodeDataURL handles data:[<mime>][;base64],<payload>.
func decodeDataURL(s string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return nil, "", ErrBadDataURL
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")

	var data []byte
	if isBase64 {
		var err error
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrBadDataURL, err)
		}
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrBadDataURL, err)
		}
		data = []byte(unescaped)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", ErrBadDataURL)
	}

	switch mime {
	case "image/jpeg", "image/jpg":
		return data, ".jpg", nil
	case "image/svg+xml":
		return data, ".svg", nil
	case "image/webp":
		return data, ".webp", nil
	default:
		return data, ".png", nil
	}
}

func remoteExt(src string) string {
	if u, err := url.Parse(src); err == nil {
		if ext := filepath.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	return ".png"
}
