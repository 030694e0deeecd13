// Package intake gates documents before they enter a processing session.
// A candidate is accepted only if it fits the size limit and is one of the
// accepted media types; accepted candidates become immutable StagedFiles.
package intake

import (
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/crypto/blake2b"

	apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
)

// MaxFileSize is the hard upload cap (5 MiB).
const MaxFileSize int64 = 5 * 1024 * 1024

// RawTextName is the display name given to staged raw text.
const RawTextName = "raw_text"

// Accepted media types.
const (
	MediaTypeText = "text/plain"
	MediaTypeCSV  = "text/csv"
	MediaTypePDF  = "application/pdf"
	MediaTypePNG  = "image/png"
	MediaTypeJPEG = "image/jpeg"
	MediaTypeJSON = "application/json"
)

var acceptedTypes = map[string]bool{
	MediaTypeText: true,
	MediaTypeCSV:  true,
	MediaTypePDF:  true,
	MediaTypePNG:  true,
	MediaTypeJPEG: true,
	MediaTypeJSON: true,
}

// Candidate is a document offered for staging, as declared by the client.
type Candidate struct {
	Name      string
	MediaType string
	// Size is the declared size. When zero, len(Data) is used.
	Size int64
	Data []byte
}

// StagedFile is a validated document. It must not be modified after Stage
// returns it.
type StagedFile struct {
	Name        string
	MediaType   string
	Size        int64
	Data        []byte
	Fingerprint string
}

// Stage validates a candidate against the intake policy. It fails with a
// *errors.ValidationError of reason FileTooLarge or UnsupportedType. Empty
// files are staged; the analyzer decides what to do with them. The payload
// slice is shared, not copied.
func Stage(c Candidate) (*StagedFile, error) {
	size := c.Size
	if size == 0 {
		size = int64(len(c.Data))
	}

	if size > MaxFileSize {
		return nil, &apperrors.ValidationError{
			Reason:   apperrors.ReasonFileTooLarge,
			FileName: c.Name,
			Size:     size,
			Limit:    MaxFileSize,
		}
	}

	if !IsAccepted(c.Name, c.MediaType) {
		return nil, &apperrors.ValidationError{
			Reason:    apperrors.ReasonUnsupportedType,
			FileName:  c.Name,
			MediaType: c.MediaType,
		}
	}

	return &StagedFile{
		Name:        c.Name,
		MediaType:   c.MediaType,
		Size:        size,
		Data:        c.Data,
		Fingerprint: Fingerprint(c.Data),
	}, nil
}

// StageText stages pasted text as a plain-text document named raw_text.
// Blank text fails with reason EmptyContent.
func StageText(text string) (*StagedFile, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &apperrors.ValidationError{
			Reason:   apperrors.ReasonEmptyContent,
			FileName: RawTextName,
		}
	}
	return Stage(Candidate{
		Name:      RawTextName,
		MediaType: MediaTypeText,
		Data:      []byte(text),
	})
}

// IsAccepted reports whether a declared media type is accepted. Parameters
// such as charset are ignored. Names ending in .csv are accepted whatever
// type the client reported, since many report a generic type for CSV.
func IsAccepted(name, mediaType string) bool {
	if acceptedTypes[baseMediaType(mediaType)] {
		return true
	}
	return strings.HasSuffix(name, ".csv")
}

// Fingerprint returns the hex BLAKE2b-256 digest of a payload.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CandidateFromPath builds a candidate from a local file, declaring its media
// type from the extension and falling back to content sniffing. Files over
// the limit are not read; Stage rejects them on the declared size.
func CandidateFromPath(path string) (Candidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Candidate{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if info.IsDir() {
		return Candidate{}, fmt.Errorf("%s is a directory", path)
	}

	c := Candidate{
		Name: filepath.Base(path),
		Size: info.Size(),
	}
	if c.Size > MaxFileSize {
		c.MediaType = mime.TypeByExtension(filepath.Ext(path))
		return c, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Candidate{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return Candidate{}, fmt.Errorf("reading %s: %w", path, err)
	}
	c.Data = data
	c.Size = int64(len(data))
	c.MediaType = DetectMediaType(c.Name, data)
	return c, nil
}

// DetectMediaType returns the media type implied by the file extension, or
// the sniffed type when the extension is unknown. Parameters are stripped.
func DetectMediaType(name string, data []byte) string {
	if byExt := baseMediaType(mime.TypeByExtension(filepath.Ext(name))); byExt != "" {
		return byExt
	}
	return baseMediaType(mimetype.Detect(data).String())
}

func baseMediaType(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return mt
}
