package forms

import (
	"bytes"
	"encoding/json"

	dErrors "efile/pkg/domain-errors"
)

// Encoded is the JSON form of an Input, tagged with its form type.
type Encoded struct {
	FormType FormType        `json:"form_type"`
	Data     json.RawMessage `json:"data"`
}

type decoder interface {
	decode(data []byte) (Input, error)
}

func (b bodyBuilder[T]) decode(data []byte) (Input, error) {
	var in T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, err
	}
	return in, nil
}

// Encode tags in with its form type.
func Encode(in Input) (Encoded, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return Encoded{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "encode "+string(in.FormType())+" input")
	}
	return Encoded{FormType: in.FormType(), Data: data}, nil
}

// Decode returns the typed input for e. Unknown fields are refused.
func Decode(e Encoded) (Input, error) {
	b, err := Lookup(e.FormType)
	if err != nil {
		return nil, err
	}
	if len(e.Data) == 0 {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s input has no data", e.FormType)
	}
	in, err := b.(decoder).decode(e.Data)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode "+string(e.FormType)+" input")
	}
	return in, nil
}
