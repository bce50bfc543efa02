package log

import (
	"testing"

	"github.com/aeolun/tvhdiscover/pkg/protocol"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, logrus.TraceLevel, ParseLevel(" trace "))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("bogus"))
	assert.True(t, ValidLevel("Error"))
	assert.False(t, ValidLevel("verbose"))
}

func TestMessageToFields(t *testing.T) {
	m := protocol.NewRequest("channelAdd").
		SetUint32("channelId", 12).
		SetStr("channelName", "Arte").
		SetBin("challenge", []byte("secret"))

	fields := MessageToFields(m)
	assert.Equal(t, "channelAdd", fields["method"])
	assert.Equal(t, uint32(12), fields["channel_id"])
	assert.Equal(t, "Arte", fields["channel_name"])
	assert.Equal(t, 4, fields["fields"])
	assert.NotContains(t, fields, "challenge")
}

func TestMessageToFieldsReply(t *testing.T) {
	fields := MessageToFields(protocol.NewMessage().SetStr("error", "Access denied"))
	assert.NotContains(t, fields, "method")
	assert.Equal(t, "Access denied", fields["error"])
}
