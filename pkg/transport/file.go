package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openas4/msh/pkg/pmode"
)

// MethodFile is the deliver/notify method type writing payloads to a
// local directory.
const MethodFile = "FILE"

// ErrUnknownMethod is returned when no sender is registered for a
// deliver or notify method type.
var ErrUnknownMethod = errors.New("transport: unknown method type")

// PayloadSender hands a deliver or notify document to the business
// application using the mechanism configured on the PMode method.
type PayloadSender interface {
	SendPayload(ctx context.Context, method *pmode.Method, name, contentType string, data []byte) error
}

// FileSender writes payloads into the directory named by the method's
// "location" parameter.
type FileSender struct{}

func (FileSender) SendPayload(ctx context.Context, method *pmode.Method, name, contentType string, data []byte) error {
	location := method.Parameter("location")
	if location == "" {
		return fmt.Errorf("transport: FILE method requires a location parameter")
	}
	if err := os.MkdirAll(location, 0o755); err != nil {
		return fmt.Errorf("creating delivery directory: %w", err)
	}

	path := filepath.Join(location, sanitizeFilename(name)+extensionFor(contentType))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// SenderRegistry resolves a PayloadSender by method type. The FILE and
// HTTP methods are registered out of the box.
type SenderRegistry struct {
	senders map[string]PayloadSender
}

// NewSenderRegistry creates a registry with the built-in senders.
func NewSenderRegistry() *SenderRegistry {
	return &SenderRegistry{
		senders: map[string]PayloadSender{
			MethodFile: FileSender{},
			MethodHTTP: HTTPSender{},
		},
	}
}

// Register adds or replaces the sender for a method type.
func (r *SenderRegistry) Register(methodType string, sender PayloadSender) {
	r.senders[strings.ToUpper(methodType)] = sender
}

// For returns the sender for the method's type.
func (r *SenderRegistry) For(method *pmode.Method) (PayloadSender, error) {
	if method == nil {
		return nil, fmt.Errorf("%w: no method configured", ErrUnknownMethod)
	}
	sender, ok := r.senders[strings.ToUpper(method.Type)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method.Type)
	}
	return sender, nil
}

func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "<", "", ">", "", "..", "_")
	out := replacer.Replace(name)
	if out == "" {
		out = "message"
	}
	return out
}

func extensionFor(contentType string) string {
	mediaType := contentType
	if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	switch strings.TrimSpace(mediaType) {
	case "application/xml", "text/xml", "application/soap+xml":
		return ".xml"
	case "application/json":
		return ".json"
	default:
		return ""
	}
}
