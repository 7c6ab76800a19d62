package natsbus

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"

	"courier/internal/dispatcher"
)

// Header names carried by every unit.
const (
	HeaderFileID        = "Courier-File-Id"
	HeaderName          = "Courier-Name"
	HeaderPart          = "Courier-Part"
	HeaderDigest        = "Courier-Digest"
	HeaderArchiveDigest = "Courier-Archive-Digest"
	HeaderArchive       = "Courier-Archive"
	HeaderSource        = "Courier-Source"
	HeaderCaption       = "Courier-Caption"
	HeaderEncrypted     = "Courier-Encrypted"
	HeaderHint          = "Courier-Hint"
)

// UnitSubject returns the subject units of fileID are published on.
func UnitSubject(base string, fileID int64) string {
	return base + "." + strconv.FormatInt(fileID, 10)
}

func encodeMessage(subject string, msg dispatcher.Message) *nats.Msg {
	out := nats.NewMsg(subject)
	out.Data = msg.Data
	out.Header.Set(nats.MsgIdHdr, msg.ID())
	out.Header.Set(HeaderFileID, strconv.FormatInt(msg.FileID, 10))
	out.Header.Set(HeaderName, msg.Name)
	out.Header.Set(HeaderPart, fmt.Sprintf("%d/%d", msg.Index, msg.Count))
	out.Header.Set(HeaderDigest, msg.Digest)
	out.Header.Set(HeaderArchiveDigest, msg.ArchiveDigest)
	out.Header.Set(HeaderArchive, msg.Archive)
	if msg.Source != "" {
		out.Header.Set(HeaderSource, msg.Source)
	}
	out.Header.Set(HeaderCaption, msg.Caption)
	out.Header.Set(HeaderEncrypted, strconv.FormatBool(msg.Encrypted))
	if msg.Hint != "" {
		out.Header.Set(HeaderHint, msg.Hint)
	}
	return out
}

// decodeMessage restores a unit from a received message.
func decodeMessage(in *nats.Msg) (dispatcher.Message, error) {
	msg := dispatcher.Message{
		Name:          in.Header.Get(HeaderName),
		Archive:       in.Header.Get(HeaderArchive),
		Source:        in.Header.Get(HeaderSource),
		Digest:        in.Header.Get(HeaderDigest),
		ArchiveDigest: in.Header.Get(HeaderArchiveDigest),
		Caption:       in.Header.Get(HeaderCaption),
		Hint:          in.Header.Get(HeaderHint),
		Data:          in.Data,
	}
	fileID, err := strconv.ParseInt(in.Header.Get(HeaderFileID), 10, 64)
	if err != nil {
		return msg, fmt.Errorf("invalid %s header: %w", HeaderFileID, err)
	}
	msg.FileID = fileID
	msg.Index, msg.Count, err = parsePart(in.Header.Get(HeaderPart))
	if err != nil {
		return msg, err
	}
	msg.Encrypted, _ = strconv.ParseBool(in.Header.Get(HeaderEncrypted))
	return msg, nil
}

func parsePart(value string) (int, int, error) {
	idx, cnt, ok := strings.Cut(value, "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid %s header %q", HeaderPart, value)
	}
	index, err := strconv.Atoi(idx)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid %s header %q: %w", HeaderPart, value, err)
	}
	count, err := strconv.Atoi(cnt)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid %s header %q: %w", HeaderPart, value, err)
	}
	if index < 1 || count < 1 || index > count {
		return 0, 0, fmt.Errorf("invalid %s header %q", HeaderPart, value)
	}
	return index, count, nil
}
