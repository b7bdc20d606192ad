package steps

import (
	"context"

	"github.com/beevik/etree"

	"github.com/openas4/msh/pkg/message"
	"github.com/openas4/msh/pkg/pipeline"
)

const nsEbbp = "http://docs.oasis-open.org/ebxml-bp/ebbp-signals-2.0"

// CreateReceipt builds the receipt signal acknowledging a received user
// message. For signed messages the receipt carries
// NonRepudiationInformation echoing the signature's references. The
// receipt message replaces the context message; serializing it is the
// caller's reply.
type CreateReceipt struct{}

func NewCreateReceipt() *CreateReceipt { return &CreateReceipt{} }

func (s *CreateReceipt) Name() string { return "create-receipt" }

func (s *CreateReceipt) Execute(ctx context.Context, mc *pipeline.MessagingContext) (*pipeline.StepResult, error) {
	next := receiptResponse(mc)
	if next == nil {
		return pipeline.Proceed(mc), nil
	}
	return pipeline.Proceed(next), nil
}

// receiptResponse clones the context with a receipt acknowledging its
// first user message, or returns nil when there is none to acknowledge.
func receiptResponse(mc *pipeline.MessagingContext) *pipeline.MessagingContext {
	um := mc.AS4Message.FirstUserMessage()
	if um == nil {
		return nil
	}
	var inner []byte
	if mc.AS4Message.SecurityHeader.IsSigned {
		inner = nonRepudiationInformation(mc.AS4Message.EnvelopeXML)
	}

	receipt := message.NewReceiptSignal(um.MessageInfo.MessageId, inner)
	response := message.NewAS4Message()
	response.AddSignalMessage(receipt)

	next := mc.CloneWith(pipeline.ModeReceive, response)
	next.ReceiptReference = um.MessageInfo.MessageId
	return next
}

// nonRepudiationInformation copies the ds:Reference elements of the
// signed envelope into an ebbp NonRepudiationInformation fragment. An
// unparseable envelope yields an empty receipt body.
func nonRepudiationInformation(envelopeXML []byte) []byte {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelopeXML); err != nil {
		return nil
	}
	signedInfo := doc.FindElement("//*[local-name()='SignedInfo']")
	if signedInfo == nil {
		return nil
	}

	nri := etree.NewDocument()
	root := nri.CreateElement("ebbp:NonRepudiationInformation")
	root.CreateAttr("xmlns:ebbp", nsEbbp)
	for _, ref := range signedInfo.FindElements("./*[local-name()='Reference']") {
		part := root.CreateElement("ebbp:MessagePartNRInformation")
		part.AddChild(ref.Copy())
	}

	out, err := nri.WriteToBytes()
	if err != nil {
		return nil
	}
	return out
}
