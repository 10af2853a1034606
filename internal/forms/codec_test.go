package forms_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"efile/internal/forms"
	"efile/internal/forms/formstest"
	dErrors "efile/pkg/domain-errors"
)

func TestDecodedInputsBuildTheSameDocument(t *testing.T) {
	ctx := context.Background()
	svc := forms.NewService(forms.WithClock(func() time.Time { return formstest.Clock }))

	for ft, in := range formstest.Samples() {
		t.Run(string(ft), func(t *testing.T) {
			enc, err := forms.Encode(in)
			require.NoError(t, err)
			raw, err := json.Marshal(enc)
			require.NoError(t, err)

			var back forms.Encoded
			require.NoError(t, json.Unmarshal(raw, &back))
			decoded, err := forms.Decode(back)
			require.NoError(t, err)
			assert.Equal(t, ft, decoded.FormType())

			want, err := svc.Build(ctx, ft, formstest.TaxYear, in)
			require.NoError(t, err)
			got, err := svc.Build(ctx, ft, formstest.TaxYear, decoded)
			require.NoError(t, err)
			assert.Equal(t, string(want.Bytes()), string(got.Bytes()))
		})
	}
}

func TestDecodeRefusesBadInput(t *testing.T) {
	for name, enc := range map[string]forms.Encoded{
		"unknown form":  {FormType: "IRS9999", Data: json.RawMessage(`{}`)},
		"no data":       {FormType: forms.FormW2},
		"unknown field": {FormType: forms.FormW2, Data: json.RawMessage(`{"Shoe":"size"}`)},
		"wrong type":    {FormType: forms.FormW2, Data: json.RawMessage(`[]`)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := forms.Decode(enc)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "got %v", err)
		})
	}
}
