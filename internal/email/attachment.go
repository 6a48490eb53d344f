package email

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Attachment describes a file attached to a message or embedded in it.
// Exactly one of FilePath, Bytes and Reader must be set.
type Attachment struct {
	Name string
	// ContentID identifies a linked resource for cid: references. It is
	// ignored for regular attachments.
	ContentID string

	FilePath string
	Bytes    []byte
	Reader   io.Reader

	MediaType    string
	MediaSubtype string
}

// FileAttachment returns an attachment read from path when resolved.
func FileAttachment(name, path string) Attachment {
	return Attachment{Name: name, FilePath: path}
}

// BytesAttachment returns an attachment holding b.
func BytesAttachment(name string, b []byte) Attachment {
	return Attachment{Name: name, Bytes: b}
}

// ReaderAttachment returns an attachment drained from r when resolved.
func ReaderAttachment(name string, r io.Reader) Attachment {
	return Attachment{Name: name, Reader: r}
}

// Inline returns a copy of a marked as a linked resource with the given
// content id.
func (a Attachment) Inline(contentID string) Attachment {
	a.ContentID = contentID
	return a
}

func (a Attachment) sources() int {
	n := 0
	if a.FilePath != "" {
		n++
	}
	if a.Bytes != nil {
		n++
	}
	if a.Reader != nil {
		n++
	}
	return n
}

// Resolve returns the attachment content. A file path is read from disk,
// a byte buffer is returned as is, and a reader is drained to EOF. The
// read happens synchronously on the calling goroutine.
func (a Attachment) Resolve() ([]byte, error) {
	switch a.sources() {
	case 0:
		return nil, fmt.Errorf("%w: attachment %q has no content", ErrContentResolution, a.Name)
	case 1:
	default:
		return nil, fmt.Errorf("%w: attachment %q has more than one content source", ErrContentResolution, a.Name)
	}

	switch {
	case a.FilePath != "":
		data, err := os.ReadFile(a.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %q: %w", a.Name, err)
		}
		return data, nil
	case a.Bytes != nil:
		return a.Bytes, nil
	default:
		data, err := io.ReadAll(a.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %q: %w", a.Name, err)
		}
		return data, nil
	}
}

// imageExtensions lists the extensions treated as images when inferring a
// media type from a file path.
var imageExtensions = map[string]string{
	".png":  "png",
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".gif":  "gif",
	".bmp":  "bmp",
	".webp": "webp",
	".tif":  "tiff",
	".tiff": "tiff",
	".svg":  "svg+xml",
	".ico":  "x-icon",
}

// MediaTypes returns the media type and subtype of the attachment. Explicit
// values win. Otherwise, for file-path attachments only, the type is
// inferred from the extension: images map to image/<ext>, everything else
// to a document type. Remaining cases are application/octet-stream.
func (a Attachment) MediaTypes() (string, string) {
	if a.MediaType != "" && a.MediaSubtype != "" {
		return a.MediaType, a.MediaSubtype
	}
	if a.FilePath == "" {
		return "application", "octet-stream"
	}

	ext := strings.ToLower(filepath.Ext(a.FilePath))
	if sub, ok := imageExtensions[ext]; ok {
		return "image", sub
	}
	return documentType(ext)
}

// ContentType returns MediaTypes joined as "type/subtype".
func (a Attachment) ContentType() string {
	typ, sub := a.MediaTypes()
	return typ + "/" + sub
}

// documentType maps a non-image extension to a media type, using the
// system MIME table when it knows the extension.
func documentType(ext string) (string, string) {
	if ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			if mt, _, err := mime.ParseMediaType(ct); err == nil {
				if typ, sub, ok := strings.Cut(mt, "/"); ok && typ != "image" {
					return typ, sub
				}
			}
		}
	}
	return "application", "octet-stream"
}
