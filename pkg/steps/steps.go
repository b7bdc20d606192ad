// Package steps contains the pipeline steps the MSH composes into its
// submit, send, receive, deliver and notify flows. Each step implements
// pipeline.Step and reports protocol failures as pipeline errors so
// the catching decorator can turn them into ebMS error signals.
package steps

import (
	"github.com/openas4/msh/pkg/message"
	"github.com/openas4/msh/pkg/security"
)

// attachmentData snapshots the message attachments into the form the
// security strategies consume. Reading resets each stream afterwards.
func attachmentData(msg *message.AS4Message) ([]security.AttachmentData, error) {
	if len(msg.Attachments) == 0 {
		return nil, nil
	}
	out := make([]security.AttachmentData, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		data, err := att.Bytes()
		if err != nil {
			return nil, err
		}
		out = append(out, security.AttachmentData{
			ContentID: att.Id,
			MimeType:  att.ContentType,
			Data:      data,
		})
	}
	return out, nil
}

// applyAttachmentData writes transformed payloads back onto the message
// attachments, matching by Content-ID.
func applyAttachmentData(msg *message.AS4Message, transformed []security.AttachmentData) {
	for _, td := range transformed {
		if att := msg.AttachmentByID(td.ContentID); att != nil {
			att.Replace(td.Data, td.MimeType)
		}
	}
}
