package artifact

import (
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ValidateName checks the client-supplied filename. Only the suffix is
// consulted; the declared MIME type is ignored.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrNoFileProvided
	}
	if !strings.EqualFold(filepath.Ext(name), ".zip") {
		return ErrInvalidExtension
	}
	return nil
}

// maxFilenameLen is the byte cap on a stored filename.
const maxFilenameLen = 255

// SanitizeFilename strips directory components and control bytes from a
// client filename so it is safe to echo back in Content-Disposition.
func SanitizeFilename(filename string) string {
	// Browsers on Windows send full paths.
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}

	filename = strings.ToValidUTF8(filename, "")
	filename = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, filename)

	// Leading dots stay so ".zip" keeps its extension.
	filename = strings.TrimRight(strings.TrimSpace(filename), " .")

	if len(filename) > maxFilenameLen {
		ext := filepath.Ext(filename)
		if len(ext) > 16 {
			ext = ""
		}
		cut := maxFilenameLen - len(ext)
		for cut > 0 && !utf8.RuneStart(filename[cut]) {
			cut--
		}
		filename = filename[:cut] + ext
	}

	if filename == "" {
		filename = "unnamed.zip"
	}
	return filename
}

// LimitReader returns a reader that yields at most max bytes from r and
// fails with ErrSizeLimitExceeded as soon as byte max+1 arrives.
func LimitReader(r io.Reader, max int64) io.Reader {
	return &limitedReader{r: r, remaining: max + 1}
}

type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, ErrSizeLimitExceeded
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining <= 0 {
		return n, ErrSizeLimitExceeded
	}
	return n, err
}
