package events

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Journal appends every event it receives to w as a msgpack envelope.
// Write errors are kept and reported by Err; later events are dropped.
type Journal struct {
	mu  sync.Mutex
	enc *msgpack.Encoder
	err error
}

func NewJournal(w io.Writer) *Journal {
	return &Journal{enc: msgpack.NewEncoder(w)}
}

func (j *Journal) Send(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return
	}
	if err := j.enc.Encode(Encode(e)); err != nil {
		j.err = fmt.Errorf("journal write: %w", err)
	}
}

// Err returns the first write error, if any.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// ReadJournal decodes every envelope in r until EOF.
func ReadJournal(r io.Reader) ([]Event, error) {
	dec := msgpack.NewDecoder(r)
	var out []Event
	for {
		var env Envelope
		err := dec.Decode(&env)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("journal entry %d: %w", len(out), err)
		}
		e, err := Decode(env)
		if err != nil {
			return out, fmt.Errorf("journal entry %d: %w", len(out), err)
		}
		out = append(out, e)
	}
}
