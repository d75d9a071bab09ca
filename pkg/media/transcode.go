// Copyright 2024-2026 Aiku AI

package media

import (
	"context"
	"fmt"
	"strconv"

	"go.mau.fi/util/ffmpeg"
)

// Transcoder converts the file at in to out. Implementations must not remove
// the input.
type Transcoder interface {
	Convert(ctx context.Context, in, out string, inputArgs, outputArgs []string) error
}

// FFmpeg runs conversions with the ffmpeg binary. ffmpeg output is logged
// through the zerolog logger in ctx.
type FFmpeg struct{}

var _ Transcoder = FFmpeg{}

func (FFmpeg) Convert(ctx context.Context, in, out string, inputArgs, outputArgs []string) error {
	if !ffmpeg.Supported() {
		return fmt.Errorf("ffmpeg is not installed")
	}
	return ffmpeg.ConvertPathWithDestination(ctx, in, out, inputArgs, outputArgs, false)
}

func videoNoteArgs(edge, maxSeconds int) []string {
	size := strconv.Itoa(edge)
	return []string{
		"-vf", "crop='min(iw,ih)':'min(iw,ih)',scale=" + size + ":" + size,
		"-t", strconv.Itoa(maxSeconds),
		"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-movflags", "+faststart",
	}
}

var animatedStickerArgs = []string{
	"-vf", "fps=15,scale=512:-1:flags=lanczos",
	"-loop", "0",
}

var staticStickerArgs = []string{
	"-frames:v", "1",
}
