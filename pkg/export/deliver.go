package export

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
)

// Deliverer hands a built artifact to the user. It returns where the
// artifact went (a path or URL) for display.
type Deliverer interface {
	Deliver(ctx context.Context, a *Artifact) (string, error)
}

// FileDeliverer writes artifacts into Dir.
type FileDeliverer struct {
	Dir string
}

// Deliver writes the artifact as Dir/<name> with owner-only permissions.
func (d FileDeliverer) Deliver(ctx context.Context, a *Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := d.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(a.SaveName()))
	if err := os.WriteFile(path, a.Data, 0o600); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// Opener displays a local file in the user's browser.
type Opener func(ctx context.Context, path string) error

// PrintDeliverer renders the print document in a browser, whose print dialog
// the document invokes on load.
type PrintDeliverer struct {
	// TempDir holds the rendered document. Empty means os.TempDir().
	TempDir string
	// Open defaults to SystemOpener.
	Open Opener
}

// Deliver writes the document to a temp file and opens it. Failure to open
// a rendering surface is reported as ExportError{PopupBlocked}; the written
// file is kept so the user can open it manually.
func (d PrintDeliverer) Deliver(ctx context.Context, a *Artifact) (string, error) {
	f, err := os.CreateTemp(d.TempDir, "redact-report-*.html")
	if err != nil {
		return "", &apperrors.ExportError{Reason: apperrors.ReasonPopupBlocked, Format: string(a.Format), Cause: err}
	}
	path := f.Name()
	if _, err := f.Write(a.Data); err != nil {
		f.Close()
		return "", fmt.Errorf("writing print document: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("writing print document: %w", err)
	}

	open := d.Open
	if open == nil {
		open = SystemOpener
	}
	if err := open(ctx, path); err != nil {
		return path, &apperrors.ExportError{Reason: apperrors.ReasonPopupBlocked, Format: string(a.Format), Cause: err}
	}
	return path, nil
}

// SystemOpener opens path with the platform's default handler.
func SystemOpener(ctx context.Context, path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", path)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", path)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", path)
	}
	return cmd.Start()
}

// DelivererFor picks the adapter for a format: print documents go to the
// browser, everything else to dir.
func DelivererFor(f Format, dir string) Deliverer {
	if f == FormatPDF {
		return PrintDeliverer{}
	}
	return FileDeliverer{Dir: dir}
}
