package util

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

func NormalizePhone(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, " ", "")
	p = strings.ReplaceAll(p, "-", "")
	return p
}

// ULIDs are sortable, which keeps thread listings cheap to index.
func NewMessageID() string {
	return "msg_" + newULID()
}

func NewConversationID() string {
	return "conv_" + newULID()
}

func NewChatMessageID() string {
	return "cmsg_" + newULID()
}

func newULID() string {
	t := time.Now().UTC()
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
