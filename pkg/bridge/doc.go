// Copyright 2024-2026 Aiku AI

// Package bridge holds the types shared by the relay engine and the two
// network adapters.
//
// A source conversation (WhatsApp chat, group, status broadcast or the call
// log) is identified by a [ConversationID] and classified once into a
// [ConversationKind]. It is mirrored as one destination thread, identified by
// a [ThreadID].
//
// Events from the source network form a closed set of types implementing
// [SourceEvent]. Posts typed in a mirrored thread arrive as
// [DestinationMessage]. The adapters implement [SourceClient] and
// [DestinationClient].
package bridge
