package address

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid is returned by Parse for malformed addresses.
var ErrInvalid = errors.New("invalid address")

// Address identifies a node endpoint. Two addresses are equal iff both
// fields are equal, so Address can be used as a map key.
type Address struct {
	ID   int32
	Port int16
}

// New returns the address id:port.
func New(id int32, port int16) Address {
	return Address{ID: id, Port: port}
}

// String returns the "id:port" form used for hashing and logging.
func (a Address) String() string {
	return strconv.FormatInt(int64(a.ID), 10) + ":" + strconv.FormatInt(int64(a.Port), 10)
}

// IsZero reports whether a is the null address 0:0.
func (a Address) IsZero() bool {
	return a.ID == 0 && a.Port == 0
}

// Less orders addresses by id, then port.
func (a Address) Less(b Address) bool {
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.Port < b.Port
}

// Parse parses the "id:port" form. A bare "id" means port 0.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, fmt.Errorf("%w: empty", ErrInvalid)
	}

	idPart, portPart, hasPort := strings.Cut(s, ":")
	id, err := strconv.ParseInt(idPart, 10, 32)
	if err != nil {
		return Address{}, fmt.Errorf("%w: id %q: %v", ErrInvalid, idPart, err)
	}

	var port int64
	if hasPort {
		port, err = strconv.ParseInt(portPart, 10, 16)
		if err != nil {
			return Address{}, fmt.Errorf("%w: port %q: %v", ErrInvalid, portPart, err)
		}
	}
	return New(int32(id), int16(port)), nil
}

// MustParse is Parse for literals; it panics on error.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}
