package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAcknowledgment(t *testing.T) {
	t.Run("indented", func(t *testing.T) {
		raw := "<Acknowledgment>\n" +
			"  <Status>ACCEPTED</Status>\n" +
			"  <Timestamp>2025-03-15T10:30:00Z</Timestamp>\n" +
			"  <SubmissionId>x</SubmissionId>\n" +
			"</Acknowledgment>\n"
		ack, err := ParseAcknowledgment([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, AckAccepted, ack.Status)
		assert.Equal(t, "x", ack.SubmissionID)
		assert.Equal(t, time.Date(2025, time.March, 15, 10, 30, 0, 0, time.UTC), ack.Timestamp)
		assert.Empty(t, ack.Errors)
	})

	t.Run("errors wrapped or at the root", func(t *testing.T) {
		raw := "<Acknowledgment>\n" +
			"  <Status>REJECTED</Status>\n" +
			"  <Error>\n    <Code>IND-031</Code>\n    <Message>SSN mismatch</Message>\n  </Error>\n" +
			"  <Errors>\n    <Error><Code>F1040-071</Code><Message>total wrong</Message></Error>\n  </Errors>\n" +
			"</Acknowledgment>"
		ack, err := ParseAcknowledgment([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, AckRejected, ack.Status)
		assert.Equal(t, []AckError{
			{Code: "IND-031", Message: "SSN mismatch"},
			{Code: "F1040-071", Message: "total wrong"},
		}, ack.Errors)
	})

	t.Run("marshal round trip", func(t *testing.T) {
		in := Acknowledgment{
			Status:       AckStatusError,
			Timestamp:    time.Date(2025, time.March, 15, 10, 30, 0, 0, time.UTC),
			SubmissionID: "abc",
			Errors:       []AckError{{Code: "X-1", Message: "boom"}},
		}
		out, err := ParseAcknowledgment(in.Marshal())
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	for name, raw := range map[string]string{
		"wrong root":     "<Receipt><Status>ACCEPTED</Status></Receipt>",
		"missing status": "<Acknowledgment><SubmissionId>x</SubmissionId></Acknowledgment>",
		"unknown status": "<Acknowledgment><Status>MAYBE</Status></Acknowledgment>",
		"bad timestamp":  "<Acknowledgment><Status>ACCEPTED</Status><Timestamp>noon</Timestamp></Acknowledgment>",
		"truncated":      "<Acknowledgment>",
	} {
		t.Run("rejects "+name, func(t *testing.T) {
			_, err := ParseAcknowledgment([]byte(raw))
			assert.Error(t, err)
		})
	}
}
