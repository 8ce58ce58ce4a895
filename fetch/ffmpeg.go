package fetch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// FFmpeg transcodes with the ffmpeg binary. Output goes to a .part file that
// is renamed into place, so a present file is always complete.
type FFmpeg struct {
	Bin string
}

func (f *FFmpeg) Transcode(ctx context.Context, src, dst string) error {
	bin := f.Bin
	if bin == "" {
		bin = "ffmpeg"
	}
	part := dst + ".part"

	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", src,
		"-f", "mp3",
		"-vn",
		part,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return err
	}
	return nil
}
