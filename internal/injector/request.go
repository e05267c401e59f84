package injector

import "github.com/google/uuid"

// InjectionRequest pairs one attempt with its setup argument. It is
// immutable once issued and lives only for the duration of the attempt.
type InjectionRequest struct {
	id    string
	setup string
}

// NewInjectionRequest issues a request with a fresh identifier.
func NewInjectionRequest(setup string) InjectionRequest {
	return InjectionRequest{id: uuid.NewString(), setup: setup}
}

// ID identifies the request in logs.
func (r InjectionRequest) ID() string { return r.id }

// Setup is the text handed to the runtime's setup routine.
func (r InjectionRequest) Setup() string { return r.setup }

// payload lays out the remote buffer: the NUL-terminated UTF-16 module path
// followed by the NUL-terminated setup argument. The argument starts at an
// even offset so the path never shares a code unit with it.
type payload struct {
	data      []byte
	argOffset uintptr
}

func buildPayload(modulePath []uint16, setup string) payload {
	data := make([]byte, 0, len(modulePath)*2+len(setup)+1)
	for _, u := range modulePath {
		data = append(data, byte(u), byte(u>>8))
	}
	if n := len(modulePath); n == 0 || modulePath[n-1] != 0 {
		data = append(data, 0, 0)
	}
	argOffset := uintptr(len(data))
	data = append(data, setup...)
	data = append(data, 0)
	return payload{data: data, argOffset: argOffset}
}
