package relay

// Fragment is one transport frame. Continuation is set for every frame of a
// message after the first; Final is set on the last one.
type Fragment struct {
	Data         []byte
	Continuation bool
	Final        bool
}

// Framer reassembles fragments into complete text messages. It holds at most
// one message in flight.
type Framer struct {
	max        int
	buf        []byte
	inProgress bool
	discarding bool
}

func NewFramer(maxBytes int) *Framer {
	if maxBytes <= 0 {
		maxBytes = DefaultConfig().MaxMessageBytes
	}
	return &Framer{max: maxBytes}
}

// Feed appends fr and returns the message once the final fragment arrives.
// Errors never require closing the connection.
func (f *Framer) Feed(fr Fragment) (string, bool, error) {
	if !fr.Continuation {
		// A fresh message replaces whatever partial state was left behind.
		f.Reset()
	} else if !f.inProgress {
		if f.discarding {
			if fr.Final {
				f.discarding = false
			}
			return "", false, nil
		}
		return "", false, ErrUnexpectedContinuation
	}

	if len(f.buf)+len(fr.Data) > f.max {
		f.Reset()
		f.discarding = !fr.Final
		return "", false, ErrFrameTooLarge
	}
	f.buf = append(f.buf, fr.Data...)
	f.inProgress = true
	if !fr.Final {
		return "", false, nil
	}
	msg := string(f.buf)
	f.Reset()
	return msg, true, nil
}

func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.inProgress = false
	f.discarding = false
}

func (f *Framer) InProgress() bool {
	return f.inProgress
}

func (f *Framer) Buffered() int {
	return len(f.buf)
}
