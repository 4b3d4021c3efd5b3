package validator

import (
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type openBody struct {
	ExamID string `json:"exam_id" binding:"required,uuid"`
	Note   string `json:"-"`
}

type countBody struct {
	Count int `json:"count"`
}

func init() {
	Setup()
	Setup()
}

func TestStruct_UsesJSONNamesAndTranslations(t *testing.T) {
	fields := Struct(&openBody{})
	require.NotNil(t, fields)
	assert.Equal(t, "exam_id is a required field", fields["exam_id"])

	fields = Struct(&openBody{ExamID: "not-a-uuid"})
	require.Contains(t, fields, "exam_id")
	assert.Contains(t, fields["exam_id"], "UUID")

	assert.Nil(t, Struct(&openBody{ExamID: "6f1c1d8e-3b7a-4a57-9d61-1f0e5c2b7a10"}))
}

func TestTranslateErrors_DecodeErrors(t *testing.T) {
	var body countBody
	err := json.Unmarshal([]byte(`{"count":"three"}`), &body)
	require.Error(t, err)
	assert.Equal(t, map[string]string{"count": "count must be a int"}, TranslateErrors(err))

	assert.Equal(t, map[string]string{"body": "request body is required"}, TranslateErrors(io.EOF))
	assert.Equal(t, map[string]string{"detail": "boom"}, TranslateErrors(errors.New("boom")))
}
