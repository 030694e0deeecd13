package intake

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
)

func TestStage_Accepted(t *testing.T) {
	tests := []struct {
		name      string
		fileName  string
		mediaType string
	}{
		{"plain text", "notes.txt", "text/plain"},
		{"plain text with charset", "notes.txt", "text/plain; charset=utf-8"},
		{"csv", "people.csv", "text/csv"},
		{"csv with generic type", "people.csv", "application/octet-stream"},
		{"csv with empty type", "people.csv", ""},
		{"pdf", "scan.pdf", "application/pdf"},
		{"png", "id.png", "image/png"},
		{"jpeg", "id.jpg", "image/jpeg"},
		{"json", "dump.json", "application/json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			staged, err := Stage(Candidate{Name: tt.fileName, MediaType: tt.mediaType, Data: []byte("x")})
			require.NoError(t, err)
			assert.Equal(t, tt.fileName, staged.Name)
			assert.Equal(t, int64(1), staged.Size)
			assert.Len(t, staged.Fingerprint, 64)
		})
	}
}

func TestStage_FileTooLarge(t *testing.T) {
	sizes := []int64{MaxFileSize + 1, MaxFileSize * 2}
	for _, size := range sizes {
		_, err := Stage(Candidate{Name: "big.txt", MediaType: "text/plain", Size: size})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidationReason(err, apperrors.ReasonFileTooLarge), "size %d", size)
	}

	// Exactly at the limit is accepted.
	data := bytes.Repeat([]byte("a"), int(MaxFileSize))
	_, err := Stage(Candidate{Name: "edge.txt", MediaType: "text/plain", Data: data})
	assert.NoError(t, err)
}

func TestStage_FileTooLargeCheckedBeforeType(t *testing.T) {
	_, err := Stage(Candidate{Name: "big.exe", MediaType: "application/x-msdownload", Size: MaxFileSize + 1})
	assert.True(t, apperrors.IsValidationReason(err, apperrors.ReasonFileTooLarge))
}

func TestStage_UnsupportedType(t *testing.T) {
	tests := []struct {
		fileName  string
		mediaType string
	}{
		{"a.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{"a.gif", "image/gif"},
		{"a.CSV", ""},
		{"archive.csv.zip", "application/zip"},
	}

	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			_, err := Stage(Candidate{Name: tt.fileName, MediaType: tt.mediaType, Data: []byte("x")})
			require.Error(t, err)
			assert.True(t, apperrors.IsValidationReason(err, apperrors.ReasonUnsupportedType))
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestStage_EmptyFileAccepted(t *testing.T) {
	staged, err := Stage(Candidate{Name: "empty.txt", MediaType: "text/plain", Data: []byte{}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), staged.Size)
	assert.Equal(t, "empty.txt", staged.Name)
	assert.Equal(t, Fingerprint(nil), staged.Fingerprint)
}

func TestStage_SharesPayload(t *testing.T) {
	data := []byte("hello")
	staged, err := Stage(Candidate{Name: "a.txt", MediaType: "text/plain", Data: data})
	require.NoError(t, err)
	assert.Same(t, &data[0], &staged.Data[0])
}

func TestStageText(t *testing.T) {
	staged, err := StageText("Contact a@b.com")
	require.NoError(t, err)
	assert.Equal(t, RawTextName, staged.Name)
	assert.Equal(t, MediaTypeText, staged.MediaType)
	assert.Equal(t, int64(15), staged.Size)

	_, err = StageText("   \n")
	assert.True(t, apperrors.IsValidationReason(err, apperrors.ReasonEmptyContent))
}

func TestFingerprint_Deterministic(t *testing.T) {
	assert.Equal(t, Fingerprint([]byte("abc")), Fingerprint([]byte("abc")))
	assert.NotEqual(t, Fingerprint([]byte("abc")), Fingerprint([]byte("abd")))
}

func TestCandidateFromPath(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("Call 555-0100"), 0o600))

	c, err := CandidateFromPath(txt)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", c.Name)
	assert.Equal(t, "text/plain", c.MediaType)
	assert.Equal(t, int64(13), c.Size)

	staged, err := Stage(c)
	require.NoError(t, err)
	assert.Equal(t, "Call 555-0100", string(staged.Data))
}

func TestCandidateFromPath_SniffsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.unknownext")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n"), 0o600))

	c, err := CandidateFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", c.MediaType)
}

func TestCandidateFromPath_Missing(t *testing.T) {
	_, err := CandidateFromPath(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestIsAccepted(t *testing.T) {
	assert.True(t, IsAccepted("x.bin", "IMAGE/PNG"))
	assert.True(t, IsAccepted("list.csv", "application/vnd.ms-excel"))
	assert.False(t, IsAccepted("x.bin", "application/octet-stream"))
}
