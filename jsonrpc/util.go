package jsonrpc

import (
	"encoding/json"
)

// PrepareJSONResponse marshals v and terminates it with a newline.
func PrepareJSONResponse(v interface{}) ([]byte, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(buf, '\n'), nil
}
