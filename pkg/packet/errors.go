package packet

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind = errors.New("unrecognized packet kind")
	ErrLength      = errors.New("payload length does not match declared size")
	ErrShortFrame  = errors.New("frame is too short to carry a packet kind")
)

type UnknownKindError struct {
	Kind Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unrecognized packet kind %d", e.Kind)
}

func (e *UnknownKindError) Is(target error) bool {
	return target == ErrUnknownKind
}

type LengthError struct {
	Kind Kind
	Want int
	Got  int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("packet %s (%d): payload is %d bytes, want %d", Name(e.Kind), e.Kind, e.Got, e.Want)
}

func (e *LengthError) Is(target error) bool {
	return target == ErrLength
}
