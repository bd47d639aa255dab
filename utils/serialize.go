// Package utils holds small generic helpers shared by the engine packages.
package utils

import (
	"encoding/json"

	"github.com/juju/errors"
)

// Serialize encodes o in the JSON form every store backend persists.
func Serialize(o any) ([]byte, error) {
	b, err := json.Marshal(o)
	return b, errors.Trace(err)
}

func Unserialize(b []byte, o any) error {
	return errors.Trace(json.Unmarshal(b, o))
}
