// Package mime serializes AS4 messages to and from their HTTP wire
// form. A message without attachments travels as a bare SOAP envelope,
// a message with attachments as multipart/related with the envelope in
// the root part and each payload in a cid:-addressed part.
package mime

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	stdmime "mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"

	"github.com/openas4/msh/pkg/message"
)

const (
	// ContentTypeSOAP is the content type of a bare SOAP 1.2 envelope.
	ContentTypeSOAP = "application/soap+xml; charset=UTF-8"

	soapMediaType      = "application/soap+xml"
	multipartMediaType = "multipart/related"
)

var (
	ErrUnsupportedContentType = errors.New("mime: unsupported content type")
	ErrMissingBoundary        = errors.New("mime: missing multipart boundary")
	ErrEmptyMessage           = errors.New("mime: empty message body")
)

// Serialize writes the message to w and returns the Content-Type for
// the HTTP request or response.
func Serialize(msg *message.AS4Message, w io.Writer) (string, error) {
	envelope, err := message.BuildEnvelope(msg)
	if err != nil {
		return "", err
	}

	if !msg.HasAttachments() {
		if _, err := w.Write(envelope); err != nil {
			return "", fmt.Errorf("writing envelope: %w", err)
		}
		return ContentTypeSOAP, nil
	}

	mw := multipart.NewWriter(w)
	boundary := "----=_Part_" + uuid.NewString()
	if err := mw.SetBoundary(boundary); err != nil {
		return "", fmt.Errorf("setting boundary: %w", err)
	}

	rootID := "root." + uuid.NewString() + "@openas4.org"
	rootHeader := make(textproto.MIMEHeader)
	rootHeader.Set("Content-Type", ContentTypeSOAP)
	rootHeader.Set("Content-ID", "<"+rootID+">")
	rootHeader.Set("Content-Transfer-Encoding", "binary")
	part, err := mw.CreatePart(rootHeader)
	if err != nil {
		return "", fmt.Errorf("creating envelope part: %w", err)
	}
	if _, err := part.Write(envelope); err != nil {
		return "", fmt.Errorf("writing envelope part: %w", err)
	}

	for _, att := range msg.Attachments {
		data, err := att.Bytes()
		if err != nil {
			return "", err
		}
		h := make(textproto.MIMEHeader)
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)
		h.Set("Content-ID", "<"+att.Id+">")
		h.Set("Content-Transfer-Encoding", "binary")
		part, err := mw.CreatePart(h)
		if err != nil {
			return "", fmt.Errorf("creating part %s: %w", att.Id, err)
		}
		if _, err := part.Write(data); err != nil {
			return "", fmt.Errorf("writing part %s: %w", att.Id, err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	contentType := fmt.Sprintf(
		"multipart/related; boundary=%q; type=%q; start=%q; start-info=\"text/xml\"",
		boundary, soapMediaType, "<"+rootID+">")
	return contentType, nil
}

// Parse reads an AS4 message off the wire. contentType is the HTTP
// Content-Type header value.
func Parse(contentType string, body io.Reader) (*message.AS4Message, error) {
	mediaType, params, err := stdmime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("parsing content type %q: %w", contentType, err)
	}

	switch {
	case mediaType == soapMediaType || mediaType == "text/xml":
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("reading envelope: %w", err)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, ErrEmptyMessage
		}
		return message.ParseEnvelope(data)

	case mediaType == multipartMediaType:
		boundary := params["boundary"]
		if boundary == "" {
			return nil, ErrMissingBoundary
		}
		return parseMultipart(body, boundary, params["start"])

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, mediaType)
	}
}

// parseMultipart reads the root envelope part and the payload parts.
// The root part is the one named by the start parameter, or the first
// part when start is absent.
func parseMultipart(body io.Reader, boundary, start string) (*message.AS4Message, error) {
	mr := multipart.NewReader(body, boundary)

	var envelope []byte
	var attachments []*message.Attachment
	startID := message.NormalizeContentID(start)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading part: %w", err)
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("reading part body: %w", err)
		}

		contentID := message.NormalizeContentID(part.Header.Get("Content-ID"))
		isRoot := envelope == nil && (startID == "" || contentID == startID)
		if isRoot && isEnvelopePart(part.Header.Get("Content-Type")) {
			envelope = data
			continue
		}

		attachments = append(attachments, &message.Attachment{
			Id:          contentID,
			ContentType: part.Header.Get("Content-Type"),
			Content:     bytes.NewReader(data),
			Properties:  map[string]string{},
		})
	}

	if envelope == nil {
		return nil, fmt.Errorf("%w: no SOAP envelope part", ErrEmptyMessage)
	}

	msg, err := message.ParseEnvelope(envelope)
	if err != nil {
		return nil, err
	}
	msg.Attachments = attachments
	return msg, nil
}

func isEnvelopePart(contentType string) bool {
	mediaType, _, err := stdmime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == soapMediaType || mediaType == "text/xml" || strings.HasPrefix(mediaType, "application/xml")
}
