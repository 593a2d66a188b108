package socket

import (
	"github.com/infodancer/serverlink/internal/pipe"
	"github.com/infodancer/serverlink/internal/zerr"
	"github.com/infodancer/serverlink/internal/zmsg"
)

// fanQueue is the fair-queue receive / round-robin send bookkeeping
// shared by DEALER, XSUB, and ROUTER's payload frames. It tracks which pipe a multi-frame message
// is currently mid-delivery on, so frames of one logical message are
// never interleaved with another pipe's.
type fanQueue struct {
	pipes      []*pipe.Pipe
	sendCursor int
	recvCursor int
	sendPipe   *pipe.Pipe
	recvPipe   *pipe.Pipe
}

func (f *fanQueue) add(p *pipe.Pipe) {
	f.pipes = append(f.pipes, p)
}

func (f *fanQueue) remove(p *pipe.Pipe) {
	for i, pp := range f.pipes {
		if pp == p {
			f.pipes = append(f.pipes[:i], f.pipes[i+1:]...)
			break
		}
	}
	if f.sendPipe == p {
		f.sendPipe = nil
	}
	if f.recvPipe == p {
		f.recvPipe = nil
	}
}

// nextSend picks the next pipe in round-robin order for a new outbound
// message, or reuses the one mid-delivery.
func (f *fanQueue) nextSend() (*pipe.Pipe, bool) {
	if f.sendPipe != nil {
		return f.sendPipe, true
	}
	if len(f.pipes) == 0 {
		return nil, false
	}
	p := f.pipes[f.sendCursor%len(f.pipes)]
	f.sendCursor++
	f.sendPipe = p
	return p, true
}

// endSend clears the in-flight send target once a message's final frame
// (More()==false) has been written.
func (f *fanQueue) endSend() { f.sendPipe = nil }

// recv fair-queues one frame across all registered pipes, continuing a
// pipe already mid-message rather than switching peers. The pipe the
// frame was read from is returned alongside it, for patterns (ROUTER)
// that need to tag the frame with its source's identity.
func (f *fanQueue) recv() (zmsg.Message, *pipe.Pipe, error) {
	if f.recvPipe != nil {
		m, ok, err := f.recvPipe.Read()
		if err != nil {
			return zmsg.Message{}, nil, err
		}
		if !ok {
			return zmsg.Message{}, nil, zerr.EAgain
		}
		src := f.recvPipe
		if !m.More() {
			f.recvPipe = nil
		}
		return m, src, nil
	}

	n := len(f.pipes)
	for i := 0; i < n; i++ {
		idx := (f.recvCursor + i) % n
		p := f.pipes[idx]
		m, ok, err := p.Read()
		if err != nil || !ok {
			continue
		}
		f.recvCursor = (idx + 1) % n
		if m.More() {
			f.recvPipe = p
		}
		return m, p, nil
	}
	return zmsg.Message{}, nil, zerr.EAgain
}

func (f *fanQueue) hasIn() bool {
	if f.recvPipe != nil {
		return true
	}
	return len(f.pipes) > 0
}

// pendingOut sums the messages still queued toward peers across all
// registered pipes, the quantity LINGER waits on at close.
func (f *fanQueue) pendingOut() int {
	n := 0
	for _, p := range f.pipes {
		n += p.Pending()
	}
	return n
}

func (f *fanQueue) hasOut() bool {
	return len(f.pipes) > 0
}
