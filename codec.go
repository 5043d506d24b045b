package gocdp

import (
	"encoding/base64"
	"encoding/json"

	"github.com/chromedp/cdproto"
)

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// cdprotoMethod adapts a plain string event name (as callers of Tab.On pass
// it) to the cdproto.MethodType the EventRouter keys callbacks by.
func cdprotoMethod(method string) cdproto.MethodType {
	return cdproto.MethodType(method)
}

// marshalParams/unmarshalResult bridge the easyjson-decoded cdproto.Message
// envelope (which carries Params/Result as easyjson.RawMessage) to the
// plain encoding/json used by command parameter and result structs that
// don't implement the easyjson Marshaler/Unmarshaler interfaces themselves
// (our own request/response payload types, as opposed to cdproto's
// generated domain types which do).
func marshalParams(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalResult(buf []byte, v interface{}) error {
	if len(buf) == 0 {
		return nil
	}
	return json.Unmarshal(buf, v)
}
