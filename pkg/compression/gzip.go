// Package compression implements GZIP payload compression per the AS4
// profile. Compression is applied per attachment and recorded in the
// part properties so the receiver knows which parts to inflate and
// which MIME type to restore.
package compression

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openas4/msh/pkg/message"
)

const (
	// CompressionTypeGzip is the part property value marking a GZIP
	// compressed payload.
	CompressionTypeGzip = "application/gzip"

	// PropCompressionType and PropMimeType are the AS4 part property
	// names driving compression handling.
	PropCompressionType = "CompressionType"
	PropMimeType        = "MimeType"
)

// ErrDecompression wraps any failure to inflate a compressed payload.
// It maps onto the ebMS DecompressionFailure error.
var ErrDecompression = errors.New("compression: decompression failed")

// Compressor handles payload compression.
type Compressor struct {
	compressionLevel int
}

// NewCompressor creates a compressor with the default compression level.
func NewCompressor() *Compressor {
	return &Compressor{compressionLevel: gzip.DefaultCompression}
}

// NewCompressorWithLevel creates a compressor with an explicit level.
func NewCompressorWithLevel(level int) *Compressor {
	return &Compressor{compressionLevel: level}
}

// Compress compresses data using GZIP.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := gzip.NewWriterLevel(&buf, c.compressionLevel)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("writing payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Decompress inflates GZIP data.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}

	return buf.Bytes(), nil
}

// CompressMessage compresses every compressible attachment of the
// message in place. Each compressed part gets a CompressionType property
// and a MimeType property recording the original type, and its content
// type becomes application/gzip.
func (c *Compressor) CompressMessage(msg *message.AS4Message) error {
	um := msg.FirstUserMessage()
	if um == nil || um.PayloadInfo == nil {
		return nil
	}

	for i := range um.PayloadInfo.PartInfo {
		part := &um.PayloadInfo.PartInfo[i]
		if part.Href == "" {
			continue
		}
		att := msg.AttachmentByID(part.Href)
		if att == nil {
			return fmt.Errorf("compression: no attachment for part %s", part.Href)
		}
		if !ShouldCompress(att.ContentType) || isCompressed(part) {
			continue
		}

		data, err := att.Bytes()
		if err != nil {
			return err
		}
		compressed, err := c.Compress(data)
		if err != nil {
			return fmt.Errorf("compressing part %s: %w", part.Href, err)
		}

		originalType := att.ContentType
		setPartProperty(part, PropMimeType, originalType)
		setPartProperty(part, PropCompressionType, CompressionTypeGzip)
		att.Replace(compressed, CompressionTypeGzip)
		if att.Properties == nil {
			att.Properties = map[string]string{}
		}
		att.Properties[PropMimeType] = originalType
		att.Properties[PropCompressionType] = CompressionTypeGzip
	}
	return nil
}

// DecompressMessage inflates every attachment whose part properties mark
// it as GZIP compressed, restoring the original MIME type. A payload
// that fails to inflate yields an error wrapping ErrDecompression.
func (c *Compressor) DecompressMessage(msg *message.AS4Message) error {
	um := msg.FirstUserMessage()
	if um == nil || um.PayloadInfo == nil {
		return nil
	}

	for i := range um.PayloadInfo.PartInfo {
		part := &um.PayloadInfo.PartInfo[i]
		if partProperty(part, PropCompressionType) != CompressionTypeGzip {
			continue
		}
		att := msg.AttachmentByID(part.Href)
		if att == nil {
			return fmt.Errorf("compression: no attachment for part %s", part.Href)
		}

		data, err := att.Bytes()
		if err != nil {
			return err
		}
		inflated, err := c.Decompress(data)
		if err != nil {
			return fmt.Errorf("part %s: %w", part.Href, err)
		}

		mimeType := partProperty(part, PropMimeType)
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		att.Replace(inflated, mimeType)
		delete(att.Properties, PropCompressionType)
		removePartProperty(part, PropCompressionType)
	}
	return nil
}

// ShouldCompress reports whether a content type benefits from
// compression. Already compressed formats are skipped.
func ShouldCompress(contentType string) bool {
	mediaType := contentType
	if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))

	compressedTypes := map[string]bool{
		"application/gzip":   true,
		"application/zip":    true,
		"application/x-gzip": true,
		"image/jpeg":         true,
		"image/png":          true,
		"video/mp4":          true,
		"audio/mp3":          true,
	}
	return !compressedTypes[mediaType]
}

func isCompressed(part *message.PartInfo) bool {
	return partProperty(part, PropCompressionType) != ""
}

func partProperty(part *message.PartInfo, name string) string {
	if part.PartProperties == nil {
		return ""
	}
	for _, p := range part.PartProperties.Property {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

func setPartProperty(part *message.PartInfo, name, value string) {
	if part.PartProperties == nil {
		part.PartProperties = &message.PartProperties{}
	}
	for i, p := range part.PartProperties.Property {
		if p.Name == name {
			part.PartProperties.Property[i].Value = value
			return
		}
	}
	part.PartProperties.Property = append(part.PartProperties.Property,
		message.Property{Name: name, Value: value})
}

func removePartProperty(part *message.PartInfo, name string) {
	if part.PartProperties == nil {
		return
	}
	props := part.PartProperties.Property[:0]
	for _, p := range part.PartProperties.Property {
		if p.Name != name {
			props = append(props, p)
		}
	}
	part.PartProperties.Property = props
}
