package cmsapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeImage(t *testing.T) {
	image, err := decodeImage("aW1n")
	require.NoError(t, err)
	assert.Equal(t, "img", string(image))

	image, err = decodeImage("data:image/png;base64,aW1n")
	require.NoError(t, err)
	assert.Equal(t, "img", string(image))

	_, err = decodeImage("%%%")
	assert.Error(t, err)
}

func TestEnvelopeMessage(t *testing.T) {
	code := Code(3)
	assert.Equal(t, "unknown error", (&Envelope{ErrCode: &code}).Message())
	assert.Equal(t, "bad", (&Envelope{ErrCode: &code, ErrMsg: "bad"}).Message())
	assert.Equal(t, "iErrCode=3: bad", (&Envelope{ErrCode: &code, ErrMsg: "bad"}).Describe())
	assert.Equal(t, "iErrCode missing: response has no iErrCode", (&Envelope{}).Describe())
}

func TestEnvelopeDecode(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantOK   bool
		wantCode *int
		wantErr  bool
	}{
		{name: "numeric zero", body: `{"iErrCode":0}`, wantOK: true, wantCode: ptr(0)},
		{name: "string zero", body: `{"iErrCode":"0"}`, wantOK: true, wantCode: ptr(0)},
		{name: "numeric rejection", body: `{"iErrCode":3,"sErrMsg":"bad"}`, wantCode: ptr(3)},
		{name: "string rejection", body: `{"iErrCode":" 12 "}`, wantCode: ptr(12)},
		{name: "empty object", body: `{}`},
		{name: "null body", body: `null`},
		{name: "null code", body: `{"iErrCode":null}`},
		{name: "message only", body: `{"sErrMsg":"服务器维护中"}`},
		{name: "non numeric string", body: `{"iErrCode":"abc"}`, wantErr: true},
		{name: "boolean code", body: `{"iErrCode":true}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env Envelope
			err := json.Unmarshal([]byte(tt.body), &env)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, env.OK())
			if tt.wantCode == nil {
				assert.Nil(t, env.ErrCode)
				return
			}
			require.NotNil(t, env.ErrCode)
			assert.Equal(t, *tt.wantCode, int(*env.ErrCode))
		})
	}
}

func ptr(n int) *int { return &n }
