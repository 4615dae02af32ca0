package childclient

import (
	"encoding/json"
	"os"
	"syscall"
)

func decodeJSON(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func terminateSignal() os.Signal {
	return syscall.SIGTERM
}
