package message

// PayloadMetadata holds the part properties extracted from a PartInfo for
// one cid:-referenced attachment.
type PayloadMetadata struct {
	Href            string
	ContentID       string
	MimeType        string
	CompressionType string
	CharacterSet    string
	Properties      map[string]string
}

// ExtractPayloadMetadata maps each PartInfo of a UserMessage to its payload
// metadata, keyed by normalized Content-ID. PartInfo entries without an
// href (in-body payloads) are skipped.
func ExtractPayloadMetadata(userMsg *UserMessage) map[string]*PayloadMetadata {
	result := make(map[string]*PayloadMetadata)
	if userMsg == nil || userMsg.PayloadInfo == nil {
		return result
	}

	for _, partInfo := range userMsg.PayloadInfo.PartInfo {
		if partInfo.Href == "" {
			continue
		}
		meta := &PayloadMetadata{
			Href:       partInfo.Href,
			ContentID:  NormalizeContentID(partInfo.Href),
			Properties: make(map[string]string),
		}
		if partInfo.PartProperties != nil {
			for _, prop := range partInfo.PartProperties.Property {
				meta.Properties[prop.Name] = prop.Value
				switch prop.Name {
				case "MimeType":
					meta.MimeType = prop.Value
				case "CompressionType":
					meta.CompressionType = prop.Value
				case "CharacterSet":
					meta.CharacterSet = prop.Value
				}
			}
		}
		result[meta.ContentID] = meta
	}
	return result
}
