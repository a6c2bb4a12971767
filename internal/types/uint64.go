package types

import (
	"strconv"

	"github.com/goccy/go-json"
)

type (
	// Uint64 is encoded as a JSON string so consumers limited to float64
	// numbers keep every digit of large counters.
	Uint64 uint64
)

func (u Uint64) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 22)
	b = append(b, '"')
	b = strconv.AppendUint(b, uint64(u), 10)
	return append(b, '"'), nil
}

func (u *Uint64) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	var s string
	if b[0] == '"' {
		err := json.Unmarshal(b, &s)
		if err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	*u = Uint64(v)
	return nil
}
