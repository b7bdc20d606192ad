package steps

import (
	"context"

	"github.com/openas4/msh/pkg/compression"
	"github.com/openas4/msh/pkg/message"
	"github.com/openas4/msh/pkg/pipeline"
)

// CompressAttachments gzips the attachments of an outgoing message when
// the sending PMode enables AS4 compression.
type CompressAttachments struct {
	compressor *compression.Compressor
}

func NewCompressAttachments() *CompressAttachments {
	return &CompressAttachments{compressor: compression.NewCompressor()}
}

func (s *CompressAttachments) Name() string { return "compress-attachments" }

func (s *CompressAttachments) Execute(ctx context.Context, mc *pipeline.MessagingContext) (*pipeline.StepResult, error) {
	if mc.SendingPMode == nil || !mc.SendingPMode.MessagePackaging.UseAS4Compression {
		return pipeline.Proceed(mc), nil
	}
	if mc.AS4Message == nil || !mc.AS4Message.HasAttachments() {
		return pipeline.Proceed(mc), nil
	}

	if err := s.compressor.CompressMessage(mc.AS4Message); err != nil {
		return nil, err
	}
	return pipeline.Proceed(mc), nil
}

// DecompressAttachments inflates the compressed attachments of a
// received message. A payload that cannot be inflated becomes an ebMS
// DecompressionFailure.
type DecompressAttachments struct {
	compressor *compression.Compressor
}

func NewDecompressAttachments() *DecompressAttachments {
	return &DecompressAttachments{compressor: compression.NewCompressor()}
}

func (s *DecompressAttachments) Name() string { return "decompress-attachments" }

func (s *DecompressAttachments) Execute(ctx context.Context, mc *pipeline.MessagingContext) (*pipeline.StepResult, error) {
	if mc.AS4Message == nil || !mc.AS4Message.HasAttachments() {
		return pipeline.Proceed(mc), nil
	}

	if err := s.compressor.DecompressMessage(mc.AS4Message); err != nil {
		ref := ""
		if um := mc.AS4Message.FirstUserMessage(); um != nil {
			ref = um.MessageInfo.MessageId
		}
		return nil, pipeline.NewError(message.ErrorDecompressionFailure, ref, "decompressing attachments", err)
	}
	return pipeline.Proceed(mc), nil
}
