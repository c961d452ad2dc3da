package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/voice-relay/internal/worker/domain"
)

// collisionLayout is appended to the stem when the destination exists
const collisionLayout = "20060102_150405"

// Publish copies src into outputDir under filename and returns the final
// destination path. An existing destination is never overwritten: the new
// copy gets a timestamp suffix instead. The copy keeps the source
// modification time and is verified by size.
func Publish(src, outputDir, filename string, now time.Time) (string, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("failed to stat artifact: %w: %w", domain.ErrLocalIO, err)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w: %w", domain.ErrLocalIO, err)
	}

	dest, err := freeDestination(outputDir, filename, now)
	if err != nil {
		return "", err
	}

	if err := copyFile(src, dest); err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("failed to copy artifact: %w: %w", domain.ErrLocalIO, err)
	}

	if err := os.Chtimes(dest, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return "", fmt.Errorf("failed to preserve artifact time: %w: %w", domain.ErrLocalIO, err)
	}

	destInfo, err := os.Stat(dest)
	if err != nil {
		return "", fmt.Errorf("failed to stat copy: %w: %w", domain.ErrLocalIO, err)
	}

	if destInfo.Size() != srcInfo.Size() {
		return "", fmt.Errorf("copy size mismatch: source %d bytes, copy %d bytes: %w",
			srcInfo.Size(), destInfo.Size(), domain.ErrLocalIO)
	}

	return dest, nil
}

func freeDestination(dir, filename string, now time.Time) (string, error) {
	dest := filepath.Join(dir, filename)
	if !exists(dest) {
		return dest, nil
	}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	suffixed := stem + "_" + now.Format(collisionLayout)

	dest = filepath.Join(dir, suffixed+ext)
	for i := 1; exists(dest); i++ {
		if i > 1000 {
			return "", fmt.Errorf("no free name for %s: %w", filename, domain.ErrLocalIO)
		}
		dest = filepath.Join(dir, fmt.Sprintf("%s_%d%s", suffixed, i, ext))
	}

	return dest, nil
}

func exists(name string) bool {
	_, err := os.Lstat(name)
	return !errors.Is(err, fs.ErrNotExist)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

// OutputFilename renders the destination filename for job. The template
// understands {outfile}, {voice} and {id}; {outfile} is the base name of the
// job's outfile hint without extension, or the default name's stem when the
// hint is empty. The result keeps the default name's extension unless the
// template supplies one.
func OutputFilename(template string, job *domain.Job, defaultName string) string {
	defaultExt := filepath.Ext(defaultName)
	defaultStem := strings.TrimSuffix(defaultName, defaultExt)

	if template == "" {
		template = "{outfile}"
	}

	outfile := defaultStem
	if hint := strings.TrimSpace(job.OutfileHint); hint != "" {
		base := path.Base(strings.ReplaceAll(hint, "\\", "/"))
		if stem := strings.TrimSuffix(base, filepath.Ext(base)); stem != "" && stem != "." {
			outfile = stem
		}
	}

	name := strings.NewReplacer(
		"{outfile}", outfile,
		"{voice}", job.VoiceRef,
		"{id}", job.ID.String(),
	).Replace(template)

	name = sanitize(name)
	if name == "" {
		return defaultName
	}

	if filepath.Ext(name) == "" {
		name += defaultExt
	}

	return name
}

// sanitize keeps the rendered name inside the output directory
func sanitize(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(strings.TrimSpace(name))
	if name == "." || name == ".." {
		return ""
	}
	return name
}
