// Package packet defines the wire protocol shared by the reliable and the
// unreliable transport.
//
// A message on the wire is a single kind byte followed by exactly Size(kind)
// payload bytes. Every registered kind has a fixed payload size, so a reader
// always knows how many bytes to pull off a stream once it has seen the kind.
// Multi-byte fields are big-endian.
package packet

import (
	"fmt"
	"io"
	"slices"
	"sync"
)

// Kind is the one byte discriminator prefixed to every message.
type Kind byte

// Packet is a fixed-size message variant.
type Packet interface {
	// Kind returns the packet's discriminator.
	Kind() Kind
	// AppendPayload appends exactly Size(Kind()) bytes to b.
	AppendPayload(b []byte) []byte
}

// DecodeFunc builds a packet from a payload whose length has already been checked.
type DecodeFunc func(payload []byte) Packet

type kindInfo struct {
	name   string
	size   int
	decode DecodeFunc
}

var (
	registryMu sync.RWMutex
	registry   = make(map[Kind]kindInfo)
)

// Register adds a kind to the protocol. It panics if the kind is already
// registered or size is negative; it is meant to be called from init.
func Register(k Kind, name string, size int, decode DecodeFunc) {
	if size < 0 || decode == nil {
		panic(fmt.Sprintf("packet: invalid registration for kind %d", k))
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if existing, ok := registry[k]; ok {
		panic(fmt.Sprintf("packet: kind %d already registered as %s", k, existing.name))
	}
	registry[k] = kindInfo{name: name, size: size, decode: decode}
}

func lookup(k Kind) (kindInfo, error) {
	registryMu.RLock()
	info, ok := registry[k]
	registryMu.RUnlock()
	if !ok {
		return kindInfo{}, &UnknownKindError{Kind: k}
	}
	return info, nil
}

// Size returns the declared payload length of k.
func Size(k Kind) (int, error) {
	info, err := lookup(k)
	if err != nil {
		return 0, err
	}
	return info.size, nil
}

// Kinds returns every registered kind in ascending order.
func Kinds() []Kind {
	registryMu.RLock()
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	registryMu.RUnlock()

	slices.Sort(kinds)
	return kinds
}

// Name returns the registered name of k, or "unknown".
func Name(k Kind) string {
	info, err := lookup(k)
	if err != nil {
		return "unknown"
	}
	return info.name
}

// Decode builds a packet of kind k from payload. payload must be exactly
// Size(k) bytes long.
func Decode(k Kind, payload []byte) (Packet, error) {
	info, err := lookup(k)
	if err != nil {
		return nil, err
	}
	if len(payload) != info.size {
		return nil, &LengthError{Kind: k, Want: info.size, Got: len(payload)}
	}
	return info.decode(payload), nil
}

// Encode returns the payload of p. It panics if p's encoder does not emit
// exactly the declared size, which is a bug in that packet kind.
func Encode(p Packet) []byte {
	info, err := lookup(p.Kind())
	if err != nil {
		panic(err)
	}
	b := p.AppendPayload(make([]byte, 0, info.size))
	if len(b) != info.size {
		panic(&LengthError{Kind: p.Kind(), Want: info.size, Got: len(b)})
	}
	return b
}

// Marshal returns the wire frame of p: the kind byte followed by its payload.
func Marshal(p Packet) []byte {
	return AppendFrame(nil, p)
}

// AppendFrame appends the wire frame of p to b.
func AppendFrame(b []byte, p Packet) []byte {
	b = append(b, byte(p.Kind()))
	return append(b, Encode(p)...)
}

// Unmarshal decodes one complete frame, as carried by a single datagram.
func Unmarshal(frame []byte) (Packet, error) {
	if len(frame) == 0 {
		return nil, ErrShortFrame
	}
	return Decode(Kind(frame[0]), frame[1:])
}

// ReadFrame reads exactly one frame from r. It returns io.EOF only when r
// ends cleanly before a new frame starts; a frame cut short yields
// io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (Packet, error) {
	var head [1]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}

	k := Kind(head[0])
	size, err := Size(k)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return Decode(k, payload)
}

// WriteFrame writes the wire frame of p to w in a single Write call.
func WriteFrame(w io.Writer, p Packet) (int, error) {
	return w.Write(Marshal(p))
}
