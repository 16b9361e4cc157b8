package messenger

import (
	"sync"

	"github.com/MrGarbonzo/boardroom-tee/internal/models"
)

// Inbox holds verified envelopes awaiting pickup by their recipient when
// the hub brokers delivery. Deliberately in-memory and bounded: the design
// favors agents re-requesting over the hub durably holding ciphertext.
type Inbox struct {
	mu       sync.Mutex
	messages map[string][]*models.SignedMessage
	capacity int // per recipient
}

// NewInbox creates an inbox keeping at most capacity envelopes per
// recipient; older envelopes are dropped first.
func NewInbox(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = 256
	}
	return &Inbox{
		messages: make(map[string][]*models.SignedMessage),
		capacity: capacity,
	}
}

// Put stores an envelope for its recipient.
func (i *Inbox) Put(msg *models.SignedMessage) {
	i.mu.Lock()
	defer i.mu.Unlock()

	queue := append(i.messages[msg.Recipient], msg)
	if len(queue) > i.capacity {
		queue = queue[len(queue)-i.capacity:]
	}
	i.messages[msg.Recipient] = queue
}

// Drain returns and removes all envelopes queued for the recipient, in
// arrival order.
func (i *Inbox) Drain(recipient string) []*models.SignedMessage {
	i.mu.Lock()
	defer i.mu.Unlock()

	queue := i.messages[recipient]
	delete(i.messages, recipient)
	return queue
}

// Pending returns the number of envelopes queued for the recipient.
func (i *Inbox) Pending(recipient string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.messages[recipient])
}
