package model

import (
	"encoding/json"
	"strconv"
)

// ClientMessageID is the client-supplied echo id spec.md §6 types as a bare
// JSON number (`message_id_by_client:7`) but which some clients round-trip
// as a numeric string. Grounded on bikemazzell-whatsignal's FlexibleInt64:
// accept either wire shape on decode, always emit the numeric form back.
type ClientMessageID int64

func (id *ClientMessageID) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*id = ClientMessageID(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*id = ClientMessageID(n)
	return nil
}

func (id ClientMessageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(id))
}
