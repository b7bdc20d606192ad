package security

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/leifj/signedxml"

	"github.com/openas4/msh/pkg/pmode"
)

// Signer produces WS-Security signatures over SOAP envelopes and their
// SwA attachments. The signature covers the Timestamp, the SOAP Body,
// the eb:Messaging header and one cid: reference per attachment.
type Signer struct {
	privateKey     *rsa.PrivateKey
	cert           *x509.Certificate
	hashAlgo       crypto.Hash
	tokenReference pmode.TokenReferenceMethod
}

// NewSigner builds a signer for the given key pair. hashAlgo defaults
// to SHA-256, tokenRef to BinarySecurityToken.
func NewSigner(privateKey crypto.Signer, cert *x509.Certificate, hashAlgo crypto.Hash, tokenRef pmode.TokenReferenceMethod) (*Signer, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("security: private key is required")
	}
	if cert == nil {
		return nil, fmt.Errorf("security: certificate is required")
	}
	rsaKey, ok := privateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: signing needs an RSA key", ErrUnsupportedKeyType)
	}
	if _, ok := cert.PublicKey.(*rsa.PublicKey); !ok {
		return nil, fmt.Errorf("%w: certificate does not carry an RSA public key", ErrUnsupportedKeyType)
	}
	if hashAlgo == 0 {
		hashAlgo = crypto.SHA256
	}
	if tokenRef == "" {
		tokenRef = pmode.TokenRefBinarySecurityToken
	}
	return &Signer{
		privateKey:     rsaKey,
		cert:           cert,
		hashAlgo:       hashAlgo,
		tokenReference: tokenRef,
	}, nil
}

// Sign signs the envelope and returns the signed XML. Attachment
// references are added with the SwA content signature transform and a
// precomputed digest over the raw attachment bytes.
func (s *Signer) Sign(envelopeXML []byte, attachments []AttachmentData) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelopeXML); err != nil {
		return nil, fmt.Errorf("security: parsing envelope: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("security: no root element")
	}
	ensureNamespaces(root)

	header := findChild(root, "Header")
	if header == nil {
		return nil, fmt.Errorf("security: SOAP Header not found")
	}
	security := findChild(header, "Security")
	if security == nil {
		security = header.CreateElement("wsse:Security")
		security.CreateAttr("env:mustUnderstand", "true")
	}

	bstID := "X509-" + generateID()
	if s.tokenReference == pmode.TokenRefBinarySecurityToken {
		bst := security.CreateElement("wsse:BinarySecurityToken")
		bst.CreateAttr("wsu:Id", bstID)
		bst.CreateAttr("EncodingType", "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary")
		bst.CreateAttr("ValueType", "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-x509-token-profile-1.0#X509v3")
		bst.SetText(base64.StdEncoding.EncodeToString(s.cert.Raw))
	}

	timestampID := "TS-" + generateID()
	timestamp := security.CreateElement("wsu:Timestamp")
	timestamp.CreateAttr("wsu:Id", timestampID)
	now := time.Now().UTC()
	timestamp.CreateElement("wsu:Created").SetText(now.Format("2006-01-02T15:04:05.000Z"))
	timestamp.CreateElement("wsu:Expires").SetText(now.Add(5 * time.Minute).Format("2006-01-02T15:04:05.000Z"))

	body := findChild(root, "Body")
	if body == nil {
		return nil, fmt.Errorf("security: SOAP Body not found")
	}
	bodyID := getOrCreateWSUID(body, "id-")

	messaging := findChild(header, "Messaging")
	var messagingID string
	if messaging != nil {
		if messaging.SelectAttrValue("env:mustUnderstand", "") == "" {
			messaging.CreateAttr("env:mustUnderstand", "true")
		}
		messagingID = getOrCreateWSUID(messaging, "id-")
	}

	sig := security.CreateElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", NSXMLDSig)

	signedInfo := sig.CreateElement("ds:SignedInfo")
	c14nMethod := signedInfo.CreateElement("ds:CanonicalizationMethod")
	c14nMethod.CreateAttr("Algorithm", AlgorithmC14N)
	c14nInclNS := c14nMethod.CreateElement("ec:InclusiveNamespaces")
	c14nInclNS.CreateAttr("xmlns:ec", AlgorithmC14N)
	c14nInclNS.CreateAttr("PrefixList", "env")

	sigMethod := signedInfo.CreateElement("ds:SignatureMethod")
	sigMethod.CreateAttr("Algorithm", s.signatureAlgorithmURI())

	s.addReference(signedInfo, timestampID, "")
	s.addReference(signedInfo, bodyID, "")
	if messaging != nil {
		s.addReference(signedInfo, messagingID, "env")
	}
	for _, att := range attachments {
		s.addAttachmentReference(signedInfo, att)
	}

	sig.CreateElement("ds:SignatureValue").SetText("placeholder")

	keyInfo := sig.CreateElement("ds:KeyInfo")
	if err := s.buildSecurityTokenReference(keyInfo, bstID); err != nil {
		return nil, err
	}

	xmlStr, err := doc.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("security: serializing envelope: %w", err)
	}

	signer, err := signedxml.NewSigner(xmlStr)
	if err != nil {
		return nil, fmt.Errorf("security: creating signer: %w", err)
	}
	signer.SetReferenceIDAttribute("wsu:Id")

	signedXML, err := signer.Sign(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("security: signing failed: %w", err)
	}
	return []byte(signedXML), nil
}

func (s *Signer) addReference(signedInfo *etree.Element, id, prefixList string) {
	ref := signedInfo.CreateElement("ds:Reference")
	ref.CreateAttr("URI", "#"+id)

	transforms := ref.CreateElement("ds:Transforms")
	transform := transforms.CreateElement("ds:Transform")
	transform.CreateAttr("Algorithm", AlgorithmC14N)
	if prefixList != "" {
		inclNs := transform.CreateElement("ec:InclusiveNamespaces")
		inclNs.CreateAttr("xmlns:ec", AlgorithmC14N)
		inclNs.CreateAttr("PrefixList", prefixList)
	}

	ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", s.digestAlgorithmURI())
	// signedxml fills this in during Sign()
	ref.CreateElement("ds:DigestValue").SetText("placeholder")
}

func (s *Signer) addAttachmentReference(signedInfo *etree.Element, att AttachmentData) {
	hash := sha256.Sum256(att.Data)

	ref := signedInfo.CreateElement("ds:Reference")
	ref.CreateAttr("URI", "cid:"+att.ContentID)

	transforms := ref.CreateElement("ds:Transforms")
	transform := transforms.CreateElement("ds:Transform")
	transform.CreateAttr("Algorithm", TransformAttachmentContent)

	ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", s.digestAlgorithmURI())
	ref.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(hash[:]))
}

func (s *Signer) buildSecurityTokenReference(parent *etree.Element, bstID string) error {
	secTokenRef := parent.CreateElement("wsse:SecurityTokenReference")

	switch s.tokenReference {
	case pmode.TokenRefBinarySecurityToken:
		reference := secTokenRef.CreateElement("wsse:Reference")
		reference.CreateAttr("URI", "#"+bstID)
		reference.CreateAttr("ValueType", "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-x509-token-profile-1.0#X509v3")

	case pmode.TokenRefKeyIdentifier:
		keyID := secTokenRef.CreateElement("wsse:KeyIdentifier")
		keyID.CreateAttr("ValueType", "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-x509-token-profile-1.0#X509SubjectKeyIdentifier")
		keyID.CreateAttr("EncodingType", "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary")
		ski := subjectKeyIdentifier(s.cert)
		if ski == nil {
			pubKeyBytes, err := x509.MarshalPKIXPublicKey(s.cert.PublicKey)
			if err != nil {
				return fmt.Errorf("security: marshaling public key: %w", err)
			}
			hash := sha256.Sum256(pubKeyBytes)
			ski = hash[:20]
		}
		keyID.SetText(base64.StdEncoding.EncodeToString(ski))

	case pmode.TokenRefIssuerSerial:
		x509Data := secTokenRef.CreateElement("ds:X509Data")
		x509Data.CreateAttr("xmlns:ds", NSXMLDSig)
		issuerSerial := x509Data.CreateElement("ds:X509IssuerSerial")
		issuerSerial.CreateElement("ds:X509IssuerName").SetText(s.cert.Issuer.String())
		issuerSerial.CreateElement("ds:X509SerialNumber").SetText(s.cert.SerialNumber.String())

	default:
		return fmt.Errorf("security: unsupported token reference method: %s", s.tokenReference)
	}
	return nil
}

func (s *Signer) signatureAlgorithmURI() string {
	switch s.hashAlgo {
	case crypto.SHA384:
		return AlgorithmRSASHA384
	case crypto.SHA512:
		return AlgorithmRSASHA512
	default:
		return AlgorithmRSASHA256
	}
}

func (s *Signer) digestAlgorithmURI() string {
	switch s.hashAlgo {
	case crypto.SHA384:
		return AlgorithmSHA384
	case crypto.SHA512:
		return AlgorithmSHA512
	default:
		return AlgorithmSHA256
	}
}

// subjectKeyIdentifier extracts the SKI extension value, nil when absent.
func subjectKeyIdentifier(cert *x509.Certificate) []byte {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal([]int{2, 5, 29, 14}) {
			if len(ext.Value) > 2 {
				return ext.Value[2:]
			}
		}
	}
	return nil
}

func ensureNamespaces(root *etree.Element) {
	if root.SelectAttr("xmlns:env") == nil {
		root.CreateAttr("xmlns:env", NSSOAP12)
	}
	if root.SelectAttr("xmlns:wsu") == nil {
		root.CreateAttr("xmlns:wsu", NSSecurityUtil)
	}
	if root.SelectAttr("xmlns:wsse") == nil {
		root.CreateAttr("xmlns:wsse", NSSecurityExt)
	}
}

// findChild locates a direct child by local name regardless of prefix.
func findChild(parent *etree.Element, localName string) *etree.Element {
	if e := parent.FindElement("./" + localName); e != nil {
		return e
	}
	return parent.FindElement("./*[local-name()='" + localName + "']")
}

func getOrCreateWSUID(elem *etree.Element, prefix string) string {
	id := elem.SelectAttrValue("wsu:Id", "")
	if id == "" {
		for _, attr := range elem.Attr {
			if attr.Key == "Id" && attr.Space == "wsu" {
				id = attr.Value
				break
			}
		}
	}
	if id == "" {
		id = prefix + generateID()
		elem.CreateAttr("wsu:Id", id)
	}
	return id
}
