package respparse

import (
	"fmt"
	"strconv"
	"strings"
)

// StatusEntry carries the subset of STATUS response attributes the
// orchestrator needs to detect a UIDVALIDITY change without a full
// SELECT.
type StatusEntry struct {
	Mailbox      string
	Messages     int64
	HasMessages  bool
	Unseen       int64
	HasUnseen    bool
	UIDValidity  uint32
	HasUIDValid  bool
	UIDNext      uint32
	HasUIDNext   bool
}

// ParseStatus parses `* STATUS <mailbox> (MESSAGES n UNSEEN n
// UIDVALIDITY n UIDNEXT n)`.
func ParseStatus(tokens []Token) (StatusEntry, error) {
	if len(tokens) < 4 {
		return StatusEntry{}, fmt.Errorf("respparse: STATUS line too short")
	}
	entry := StatusEntry{Mailbox: tokens[2].Text()}
	data := tokens[3]
	if data.Kind != List {
		return entry, fmt.Errorf("respparse: STATUS data is not a list")
	}
	c := data.Children
	for i := 0; i+1 < len(c); i += 2 {
		key := strings.ToUpper(c[i].Text())
		val := c[i+1].Text()
		n, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			continue
		}
		switch key {
		case "MESSAGES":
			entry.Messages, entry.HasMessages = int64(n), true
		case "UNSEEN":
			entry.Unseen, entry.HasUnseen = int64(n), true
		case "UIDVALIDITY":
			entry.UIDValidity, entry.HasUIDValid = uint32(n), true
		case "UIDNEXT":
			entry.UIDNext, entry.HasUIDNext = uint32(n), true
		}
	}
	return entry, nil
}
