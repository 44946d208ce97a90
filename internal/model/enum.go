package model

import "encoding/json"

func marshalEnumString(s string) ([]byte, error) {
	return json.Marshal(s)
}

func unmarshalEnumString(data []byte) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", err
	}
	return s, nil
}
