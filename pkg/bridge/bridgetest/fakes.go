// Copyright 2024-2026 Aiku AI

// Package bridgetest provides recording fakes of the bridge collaborators.
package bridgetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
)

// Post is one message recorded by Destination.
type Post struct {
	ID       string
	Thread   bridge.ThreadID
	RootID   string
	Text     string
	Upload   *bridge.Upload
	Content  []byte
	Location *bridge.Location
	Contact  *bridge.ContactCard
}

// Reaction is one reaction recorded by Destination.
type Reaction struct {
	MessageID string
	Emoji     string
}

// Rename is one thread rename recorded by Destination.
type Rename struct {
	Thread bridge.ThreadID
	Name   string
}

// Destination is an in-memory bridge.DestinationClient.
type Destination struct {
	// CreateDelay slows CreateThread down to widen race windows in tests.
	CreateDelay time.Duration
	// SendDelay holds SendText until it passes or the context is done.
	SendDelay   time.Duration
	CreateErr   error
	SendErr     error
	FileErr     error
	ReactionErr error

	mu        sync.Mutex
	threads   []bridge.ThreadSpec
	posts     []Post
	reactions []Reaction
	renames   []Rename
	files     map[string][]byte
	nextID    int
}

var _ bridge.DestinationClient = (*Destination)(nil)

func (d *Destination) id(prefix string) string {
	d.nextID++
	return fmt.Sprintf("%s-%d", prefix, d.nextID)
}

func (d *Destination) Run(ctx context.Context, _ bridge.DestinationEventSink) error {
	<-ctx.Done()
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Destination) CreateThread(ctx context.Context, spec bridge.ThreadSpec) (bridge.ThreadID, error) {
	if err := sleep(ctx, d.CreateDelay); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CreateErr != nil {
		return "", d.CreateErr
	}
	d.threads = append(d.threads, spec)
	return bridge.ThreadID(d.id("thread")), nil
}

func (d *Destination) RenameThread(_ context.Context, thread bridge.ThreadID, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.renames = append(d.renames, Rename{Thread: thread, Name: name})
	return nil
}

func (d *Destination) record(p Post) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SendErr != nil {
		return "", d.SendErr
	}
	p.ID = d.id("post")
	d.posts = append(d.posts, p)
	return p.ID, nil
}

func (d *Destination) SendText(ctx context.Context, thread bridge.ThreadID, text string) (string, error) {
	if err := sleep(ctx, d.SendDelay); err != nil {
		return "", err
	}
	return d.record(Post{Thread: thread, Text: text})
}

func (d *Destination) SendReply(_ context.Context, thread bridge.ThreadID, rootID, text string) (string, error) {
	return d.record(Post{Thread: thread, RootID: rootID, Text: text})
}

func (d *Destination) SendFile(_ context.Context, thread bridge.ThreadID, upload bridge.Upload) (string, error) {
	if d.FileErr != nil {
		return "", d.FileErr
	}
	data, err := os.ReadFile(upload.Path)
	if err != nil {
		return "", err
	}
	return d.record(Post{Thread: thread, Text: upload.Caption, Upload: &upload, Content: data})
}

func (d *Destination) SendLocation(_ context.Context, thread bridge.ThreadID, loc bridge.Location, caption string) (string, error) {
	return d.record(Post{Thread: thread, Text: caption, Location: &loc})
}

func (d *Destination) SendContact(_ context.Context, thread bridge.ThreadID, card bridge.ContactCard, caption string) (string, error) {
	return d.record(Post{Thread: thread, Text: caption, Contact: &card})
}

func (d *Destination) SetReaction(_ context.Context, messageID, emoji string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ReactionErr != nil {
		return d.ReactionErr
	}
	d.reactions = append(d.reactions, Reaction{MessageID: messageID, Emoji: emoji})
	return nil
}

// AddFile makes data available to OpenFile under id.
func (d *Destination) AddFile(id string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.files == nil {
		d.files = make(map[string][]byte)
	}
	d.files[id] = data
}

func (d *Destination) OpenFile(_ context.Context, fileID string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.files[fileID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Threads returns the created thread specs in order.
func (d *Destination) Threads() []bridge.ThreadSpec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bridge.ThreadSpec(nil), d.threads...)
}

// Posts returns every post in order.
func (d *Destination) Posts() []Post {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Post(nil), d.posts...)
}

// PostsIn returns the posts sent to thread.
func (d *Destination) PostsIn(thread bridge.ThreadID) []Post {
	var out []Post
	for _, p := range d.Posts() {
		if p.Thread == thread {
			out = append(out, p)
		}
	}
	return out
}

// Reactions returns every reaction in order.
func (d *Destination) Reactions() []Reaction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Reaction(nil), d.reactions...)
}

// Renames returns every rename in order.
func (d *Destination) Renames() []Rename {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Rename(nil), d.renames...)
}

// Sent is one message recorded by Source.
type Sent struct {
	Conversation bridge.ConversationID
	Content      bridge.OutgoingContent
}

// PresenceCall is one presence update recorded by Source.
type PresenceCall struct {
	State        bridge.PresenceState
	Conversation bridge.ConversationID
}

// Source is an in-memory bridge.SourceClient.
type Source struct {
	SendErr    error
	InfoErr    error
	PictureErr error

	mu       sync.Mutex
	sent     []Sent
	reads    [][]bridge.MessageKey
	presence []PresenceCall
	info     map[bridge.ConversationID]*bridge.ConversationInfo
	pictures map[bridge.ConversationID]string
	nextID   int
}

var _ bridge.SourceClient = (*Source)(nil)

func (s *Source) Run(ctx context.Context, _ bridge.SourceEventSink) error {
	<-ctx.Done()
	return nil
}

func (s *Source) Send(_ context.Context, conv bridge.ConversationID, content bridge.OutgoingContent) (bridge.MessageKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return bridge.MessageKey{}, s.SendErr
	}
	s.nextID++
	s.sent = append(s.sent, Sent{Conversation: conv, Content: content})
	return bridge.MessageKey{Conversation: conv, ID: fmt.Sprintf("OUT%d", s.nextID), FromMe: true}, nil
}

func (s *Source) MarkRead(_ context.Context, keys []bridge.MessageKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, append([]bridge.MessageKey(nil), keys...))
	return nil
}

func (s *Source) SetPresence(_ context.Context, state bridge.PresenceState, conv bridge.ConversationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = append(s.presence, PresenceCall{State: state, Conversation: conv})
	return nil
}

// SetInfo registers the metadata GetConversationInfo returns for conv.
func (s *Source) SetInfo(conv bridge.ConversationID, info bridge.ConversationInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info == nil {
		s.info = make(map[bridge.ConversationID]*bridge.ConversationInfo)
	}
	s.info[conv] = &info
}

func (s *Source) GetConversationInfo(_ context.Context, conv bridge.ConversationID) (*bridge.ConversationInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InfoErr != nil {
		return nil, s.InfoErr
	}
	if info, ok := s.info[conv]; ok {
		cp := *info
		return &cp, nil
	}
	return &bridge.ConversationInfo{}, nil
}

// SetPicture registers the profile picture URL for conv.
func (s *Source) SetPicture(conv bridge.ConversationID, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pictures == nil {
		s.pictures = make(map[bridge.ConversationID]string)
	}
	s.pictures[conv] = url
}

func (s *Source) GetProfilePictureURL(_ context.Context, conv bridge.ConversationID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PictureErr != nil {
		return "", s.PictureErr
	}
	return s.pictures[conv], nil
}

// Sent returns every sent message in order.
func (s *Source) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// Reads returns every MarkRead batch in order.
func (s *Source) Reads() [][]bridge.MessageKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]bridge.MessageKey(nil), s.reads...)
}

// Presence returns every presence update in order.
func (s *Source) Presence() []PresenceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PresenceCall(nil), s.presence...)
}
