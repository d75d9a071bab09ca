// Copyright 2024-2026 Aiku AI

// Package media moves media payloads between the two networks.
//
// Every transfer fetches the payload completely into a temp file, applies a
// per-kind transform, hands the result to a sink and removes every temp file
// it created, whether the transfer succeeded or not.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exmime"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
)

// ErrTransferFailed marks a media transfer that could not be completed. The
// caller treats it as "this message's media was not relayed".
var ErrTransferFailed = errors.New("media transfer failed")

// ErrTooLarge is returned when a payload exceeds the configured size limit.
var ErrTooLarge = errors.New("media payload too large")

const defaultStickerCaption = "🖼️ Sticker"

var transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wa_relay_media_transfers_total",
	Help: "Media transfers by kind and result (ok, fallback, failed).",
}, []string{"kind", "result"})

// Opener opens the payload stream.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// Sink delivers a prepared file and returns the resulting message ID.
type Sink func(ctx context.Context, upload bridge.Upload) (string, error)

// Payload describes one media item to transfer.
type Payload struct {
	Kind     bridge.MessageKind
	Open     Opener
	FileName string
	MimeType string
	// Size is the announced payload size. Zero means unknown.
	Size     int64
	Caption  string
	Animated bool
}

// Config controls the pipeline limits.
type Config struct {
	TempDir             string
	MaxSize             int64
	VideoNoteSize       int
	VideoNoteMaxSeconds int
}

// Pipeline runs media transfers. It is safe for concurrent use.
type Pipeline struct {
	cfg        Config
	transcoder Transcoder
	log        zerolog.Logger
}

// New creates a pipeline and its temp directory.
func New(cfg Config, transcoder Transcoder, log zerolog.Logger) (*Pipeline, error) {
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "wa-mattermost-relay")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100 << 20
	}
	if cfg.VideoNoteSize <= 0 {
		cfg.VideoNoteSize = 384
	}
	if cfg.VideoNoteMaxSeconds <= 0 {
		cfg.VideoNoteMaxSeconds = 60
	}
	if err := os.MkdirAll(cfg.TempDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create temp dir %q: %w", cfg.TempDir, err)
	}
	return &Pipeline{
		cfg:        cfg,
		transcoder: transcoder,
		log:        log.With().Str("component", "media").Logger(),
	}, nil
}

// TempDir returns the directory holding in-flight files.
func (p *Pipeline) TempDir() string {
	return p.cfg.TempDir
}

// Close empties the temp directory.
func (p *Pipeline) Close() error {
	entries, err := os.ReadDir(p.cfg.TempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read temp dir: %w", err)
	}
	var errs []error
	for _, entry := range entries {
		if err = os.RemoveAll(filepath.Join(p.cfg.TempDir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		p.log.Debug().Msg("Temp directory cleaned")
	}
	return errors.Join(errs...)
}

// Transfer fetches the payload, transforms it for its kind and delivers it
// through sink. Failures wrap ErrTransferFailed.
func (p *Pipeline) Transfer(ctx context.Context, pl Payload, sink Sink) (string, error) {
	log := p.log.With().Str("media_kind", string(pl.Kind)).Logger()
	ctx = log.WithContext(ctx)

	sc := &scope{dir: p.cfg.TempDir}
	defer sc.cleanup(log)

	src, err := p.fetch(ctx, sc, pl)
	if err != nil {
		transfersTotal.WithLabelValues(string(pl.Kind), "failed").Inc()
		return "", fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	id, fellBack, err := p.deliver(ctx, sc, pl, src, sink)
	if err != nil {
		transfersTotal.WithLabelValues(string(pl.Kind), "failed").Inc()
		return "", fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	result := "ok"
	if fellBack {
		result = "fallback"
	}
	transfersTotal.WithLabelValues(string(pl.Kind), result).Inc()
	return id, nil
}

// fetch copies the whole payload into a temp file.
func (p *Pipeline) fetch(ctx context.Context, sc *scope, pl Payload) (string, error) {
	if pl.Open == nil {
		return "", fmt.Errorf("payload has no source")
	}
	if pl.Size > p.cfg.MaxSize {
		return "", fmt.Errorf("%w: announced %d bytes, limit is %d", ErrTooLarge, pl.Size, p.cfg.MaxSize)
	}
	rc, err := pl.Open(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open payload: %w", err)
	}
	defer rc.Close()

	f, err := sc.create("in-*" + filepath.Ext(pl.FileName))
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, io.LimitReader(rc, p.cfg.MaxSize+1))
	closeErr := f.Close()
	if err != nil {
		return "", fmt.Errorf("failed to download payload: %w", err)
	} else if closeErr != nil {
		return "", fmt.Errorf("failed to write payload: %w", closeErr)
	}
	if n > p.cfg.MaxSize {
		return "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, p.cfg.MaxSize)
	}
	return f.Name(), nil
}

func (p *Pipeline) deliver(ctx context.Context, sc *scope, pl Payload, src string, sink Sink) (id string, fellBack bool, err error) {
	base := baseUpload(pl, src)
	switch pl.Kind {
	case bridge.MessageVideoNote:
		return p.deliverVideoNote(ctx, sc, base, sink)
	case bridge.MessageSticker:
		if pl.Animated {
			return p.deliverAnimatedSticker(ctx, sc, base, sink)
		}
		return p.deliverStaticSticker(ctx, sc, base, sink)
	default:
		id, err = sink(ctx, base)
		return id, false, err
	}
}

func (p *Pipeline) deliverVideoNote(ctx context.Context, sc *scope, base bridge.Upload, sink Sink) (string, bool, error) {
	out := sc.reserve(".mp4")
	err := p.transcoder.Convert(ctx, base.Path, out, nil, videoNoteArgs(p.cfg.VideoNoteSize, p.cfg.VideoNoteMaxSeconds))
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Video note transcode failed, sending original")
		id, sendErr := sink(ctx, asDocument(base))
		return id, true, sendErr
	}
	upload := base
	upload.Path = out
	upload.FileName = replaceExt(base.FileName, ".mp4")
	upload.MimeType = "video/mp4"
	id, err := sink(ctx, upload)
	return id, false, err
}

func (p *Pipeline) deliverAnimatedSticker(ctx context.Context, sc *scope, base bridge.Upload, sink Sink) (string, bool, error) {
	out := sc.reserve(".gif")
	err := p.transcoder.Convert(ctx, base.Path, out, nil, animatedStickerArgs)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Animated sticker transcode failed, sending original")
		id, sendErr := sink(ctx, asDocument(base))
		return id, true, sendErr
	}
	upload := base
	upload.Path = out
	upload.FileName = replaceExt(base.FileName, ".gif")
	upload.MimeType = "image/gif"
	id, err := sink(ctx, upload)
	return id, false, err
}

// deliverStaticSticker packages the sticker as PNG. If packaging or the
// sticker send fails, it degrades to a plain photo with a caption.
func (p *Pipeline) deliverStaticSticker(ctx context.Context, sc *scope, base bridge.Upload, sink Sink) (string, bool, error) {
	log := zerolog.Ctx(ctx)
	photo := base
	photo.Kind = bridge.MessageImage
	if photo.Caption == "" {
		photo.Caption = defaultStickerCaption
	}

	out := sc.reserve(".png")
	err := p.transcoder.Convert(ctx, base.Path, out, nil, staticStickerArgs)
	if err == nil {
		sticker := base
		sticker.Path = out
		sticker.FileName = replaceExt(base.FileName, ".png")
		sticker.MimeType = "image/png"
		var id string
		if id, err = sink(ctx, sticker); err == nil {
			return id, false, nil
		}
		photo.Path, photo.FileName, photo.MimeType = sticker.Path, sticker.FileName, sticker.MimeType
	}
	log.Warn().Err(err).Msg("Sticker could not be sent natively, sending as photo")
	id, err := sink(ctx, photo)
	return id, true, err
}

func baseUpload(pl Payload, path string) bridge.Upload {
	mimeType := pl.MimeType
	ext := filepath.Ext(pl.FileName)
	if mimeType == "" && ext != "" {
		mimeType = mime.TypeByExtension(ext)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	// Strip parameters such as "; codecs=opus".
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}
	fileName := filepath.Base(pl.FileName)
	if pl.FileName == "" {
		fileName = defaultName(pl.Kind) + exmime.ExtensionFromMimetype(mimeType)
	}
	return bridge.Upload{
		Kind:     pl.Kind,
		Path:     path,
		FileName: fileName,
		MimeType: mimeType,
		Caption:  pl.Caption,
	}
}

func asDocument(u bridge.Upload) bridge.Upload {
	if strings.HasPrefix(u.MimeType, "image/") {
		u.Kind = bridge.MessageImage
	} else {
		u.Kind = bridge.MessageDocument
	}
	return u
}

func defaultName(kind bridge.MessageKind) string {
	switch kind {
	case bridge.MessageImage:
		return "image"
	case bridge.MessageVideo, bridge.MessageVideoNote:
		return "video"
	case bridge.MessageAudio, bridge.MessageVoice:
		return "audio"
	case bridge.MessageSticker:
		return "sticker"
	default:
		return "document"
	}
}

func replaceExt(name, ext string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}
