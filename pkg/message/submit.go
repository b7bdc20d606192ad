package message

// SubmitMessage is a business submission request: the payloads to package
// plus the collaboration metadata the submitting application wants on the
// resulting UserMessage. Fields left empty fall back to the sending PMode's
// message-packaging defaults.
type SubmitMessage struct {
	MessageID      string
	RefToMessageID string
	PModeID        string

	FromParty *Party
	ToParty   *Party

	CollaborationInfo *CollaborationInfo
	MessageProperties []Property

	Payloads []SubmitPayload
}

// SubmitPayload is one payload reference in a submission.
type SubmitPayload struct {
	Id          string
	ContentType string
	Data        []byte

	// PayloadProperties become PartProperties on the PartInfo.
	PayloadProperties []Property
}

// ToUserMessage builds the UserMessage and attachments for a submission.
// Each payload becomes one PartInfo referencing one attachment by cid: URI.
func (s *SubmitMessage) ToUserMessage() (*UserMessage, []*Attachment) {
	um := NewUserMessageWithID()
	if s.MessageID != "" {
		um.MessageInfo.MessageId = s.MessageID
	}
	um.MessageInfo.RefToMessageId = s.RefToMessageID
	um.PartyInfo = &PartyInfo{From: s.FromParty, To: s.ToParty}
	um.CollaborationInfo = s.CollaborationInfo
	if len(s.MessageProperties) > 0 {
		um.MessageProperties = &MessageProperties{Property: s.MessageProperties}
	}

	attachments := make([]*Attachment, 0, len(s.Payloads))
	if len(s.Payloads) > 0 {
		um.PayloadInfo = &PayloadInfo{}
		for _, p := range s.Payloads {
			att := NewAttachment(p.Id, p.ContentType, p.Data)
			att.Properties["MimeType"] = p.ContentType
			part := PartInfo{Href: att.CidReference()}
			if len(p.PayloadProperties) > 0 {
				part.PartProperties = &PartProperties{Property: p.PayloadProperties}
			}
			um.PayloadInfo.PartInfo = append(um.PayloadInfo.PartInfo, part)
			attachments = append(attachments, att)
		}
	}
	return um, attachments
}
