package mime

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openas4/msh/pkg/message"
)

func newUserMessage(t *testing.T) *message.UserMessage {
	t.Helper()
	um := message.NewUserMessageWithID()
	um.CollaborationInfo = &message.CollaborationInfo{
		Service:        message.Service{Value: "urn:example:service"},
		Action:         "Submit",
		ConversationId: "conv-1",
	}
	return um
}

func TestSerializeWithoutAttachments(t *testing.T) {
	msg := message.NewAS4Message()
	msg.AddUserMessage(newUserMessage(t))

	var buf bytes.Buffer
	contentType, err := Serialize(msg, &buf)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeSOAP, contentType)
	assert.Contains(t, buf.String(), "UserMessage")
	assert.NotContains(t, contentType, "multipart")
}

func TestSerializeParseRoundTrip(t *testing.T) {
	um := newUserMessage(t)
	att := message.NewAttachment("payload-1@test.local", "application/xml", []byte("<doc/>"))
	um.PayloadInfo = &message.PayloadInfo{
		PartInfo: []message.PartInfo{{Href: att.CidReference()}},
	}

	msg := message.NewAS4Message()
	msg.AddUserMessage(um)
	msg.AddAttachment(att)

	var buf bytes.Buffer
	contentType, err := Serialize(msg, &buf)
	require.NoError(t, err)
	assert.Contains(t, contentType, "multipart/related")
	assert.Contains(t, contentType, "start=")

	parsed, err := Parse(contentType, &buf)
	require.NoError(t, err)

	gotUM := parsed.FirstUserMessage()
	require.NotNil(t, gotUM)
	assert.Equal(t, um.MessageInfo.MessageId, gotUM.MessageInfo.MessageId)
	assert.Equal(t, "Submit", gotUM.CollaborationInfo.Action)

	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, "payload-1@test.local", parsed.Attachments[0].Id)
	data, err := parsed.Attachments[0].Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("<doc/>"), data)
}

func TestParseBareEnvelope(t *testing.T) {
	msg := message.NewAS4Message()
	msg.AddUserMessage(newUserMessage(t))

	var buf bytes.Buffer
	_, err := Serialize(msg, &buf)
	require.NoError(t, err)

	parsed, err := Parse("application/soap+xml; charset=UTF-8", &buf)
	require.NoError(t, err)
	assert.NotNil(t, parsed.FirstUserMessage())
	assert.Empty(t, parsed.Attachments)
}

func TestParseHonorsStartParameter(t *testing.T) {
	// Build a multipart body where the envelope is the second part and
	// the start parameter names it.
	msg := message.NewAS4Message()
	msg.AddUserMessage(newUserMessage(t))
	envelope, err := message.BuildEnvelope(msg)
	require.NoError(t, err)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-ID", "<payload-1@test.local>")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("binary payload"))
	require.NoError(t, err)

	h = make(textproto.MIMEHeader)
	h.Set("Content-Type", "application/soap+xml; charset=UTF-8")
	h.Set("Content-ID", "<root@test.local>")
	part, err = mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(envelope)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	contentType := fmt.Sprintf(
		"multipart/related; boundary=%q; type=\"application/soap+xml\"; start=\"<root@test.local>\"",
		mw.Boundary())

	parsed, err := Parse(contentType, &buf)
	require.NoError(t, err)
	assert.NotNil(t, parsed.FirstUserMessage())
	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, "payload-1@test.local", parsed.Attachments[0].Id)
}

func TestParseRejectsUnsupportedContentType(t *testing.T) {
	_, err := Parse("application/json", strings.NewReader("{}"))
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
}

func TestParseMissingBoundary(t *testing.T) {
	_, err := Parse("multipart/related; type=\"application/soap+xml\"", strings.NewReader(""))
	assert.Error(t, err)
}

func TestParseEmptyBody(t *testing.T) {
	_, err := Parse("application/soap+xml", strings.NewReader("  "))
	assert.ErrorIs(t, err, ErrEmptyMessage)
}
