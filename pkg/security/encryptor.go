package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"
)

// Encryptor encrypts AS4 attachment payloads for a recipient. A fresh
// AES content encryption key is wrapped with RSA-OAEP under the
// recipient certificate, every attachment is sealed with AES-GCM and
// the GCM nonce prepended to the ciphertext. The Security header gains
// an xenc:EncryptedKey plus one xenc:EncryptedData per attachment with
// a cid: CipherReference.
type Encryptor struct {
	recipientCert *x509.Certificate
	recipientKey  *rsa.PublicKey
	dataAlgorithm string
}

// NewEncryptor builds an encryptor for the recipient certificate.
// dataAlgorithm defaults to AES-128-GCM.
func NewEncryptor(recipientCert *x509.Certificate, dataAlgorithm string) (*Encryptor, error) {
	if recipientCert == nil {
		return nil, fmt.Errorf("security: recipient certificate is required")
	}
	publicKey, ok := recipientCert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: encryption needs an RSA recipient key", ErrUnsupportedKeyType)
	}
	if dataAlgorithm == "" {
		dataAlgorithm = AlgorithmAES128GCM
	}
	if dataAlgorithm != AlgorithmAES128GCM && dataAlgorithm != AlgorithmAES256GCM {
		return nil, fmt.Errorf("security: unsupported data encryption algorithm: %s", dataAlgorithm)
	}
	return &Encryptor{
		recipientCert: recipientCert,
		recipientKey:  publicKey,
		dataAlgorithm: dataAlgorithm,
	}, nil
}

// EncryptResult holds the rewritten envelope and the sealed payloads.
type EncryptResult struct {
	EnvelopeXML []byte
	// Attachments are the encrypted parts, content type
	// application/octet-stream, in input order.
	Attachments []AttachmentData
}

// Encrypt seals the attachments and records the key material in the
// envelope's Security header. Messages without attachments pass
// through unchanged.
func (e *Encryptor) Encrypt(envelopeXML []byte, attachments []AttachmentData) (*EncryptResult, error) {
	if len(attachments) == 0 {
		return &EncryptResult{EnvelopeXML: envelopeXML}, nil
	}

	keySize := 16
	if e.dataAlgorithm == AlgorithmAES256GCM {
		keySize = 32
	}
	cek := make([]byte, keySize)
	if _, err := rand.Read(cek); err != nil {
		return nil, fmt.Errorf("security: generating content encryption key: %w", err)
	}
	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, e.recipientKey, cek, nil)
	if err != nil {
		return nil, fmt.Errorf("security: RSA-OAEP key wrap: %w", err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("security: creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: creating GCM: %w", err)
	}

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

	encKeyID := "EK-" + generateID()
	encKey := security.CreateElement("xenc:EncryptedKey")
	encKey.CreateAttr("xmlns:xenc", NSXMLEnc)
	encKey.CreateAttr("Id", encKeyID)
	encKey.CreateElement("xenc:EncryptionMethod").CreateAttr("Algorithm", AlgorithmRSAOAEP)

	keyInfo := encKey.CreateElement("ds:KeyInfo")
	keyInfo.CreateAttr("xmlns:ds", NSXMLDSig)
	secTokenRef := keyInfo.CreateElement("wsse:SecurityTokenReference")
	x509Data := secTokenRef.CreateElement("ds:X509Data")
	issuerSerial := x509Data.CreateElement("ds:X509IssuerSerial")
	issuerSerial.CreateElement("ds:X509IssuerName").SetText(e.recipientCert.Issuer.String())
	issuerSerial.CreateElement("ds:X509SerialNumber").SetText(e.recipientCert.SerialNumber.String())

	cipherData := encKey.CreateElement("xenc:CipherData")
	cipherData.CreateElement("xenc:CipherValue").SetText(base64.StdEncoding.EncodeToString(wrappedKey))
	refList := encKey.CreateElement("xenc:ReferenceList")

	sealed := make([]AttachmentData, len(attachments))
	for i, att := range attachments {
		nonce := make([]byte, gcm.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return nil, fmt.Errorf("security: generating nonce: %w", err)
		}
		// nonce is prepended so the decryptor can recover it
		ciphertext := gcm.Seal(nonce, nonce, att.Data, nil)

		dataID := "ED-" + generateID()
		refList.CreateElement("xenc:DataReference").CreateAttr("URI", "#"+dataID)

		ed := security.CreateElement("xenc:EncryptedData")
		ed.CreateAttr("Id", dataID)
		ed.CreateAttr("MimeType", att.MimeType)
		ed.CreateAttr("Type", "http://www.w3.org/2001/04/xmlenc#Content")
		ed.CreateElement("xenc:EncryptionMethod").CreateAttr("Algorithm", e.dataAlgorithm)

		edCipherData := ed.CreateElement("xenc:CipherData")
		cipherRef := edCipherData.CreateElement("xenc:CipherReference")
		cipherRef.CreateAttr("URI", "cid:"+att.ContentID)
		transforms := cipherRef.CreateElement("xenc:Transforms")
		transform := transforms.CreateElement("ds:Transform")
		transform.CreateAttr("xmlns:ds", NSXMLDSig)
		transform.CreateAttr("Algorithm", TransformAttachmentCiphertext)

		sealed[i] = AttachmentData{
			ContentID: att.ContentID,
			MimeType:  "application/octet-stream",
			Data:      ciphertext,
		}
	}

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("security: serializing envelope: %w", err)
	}
	return &EncryptResult{EnvelopeXML: out, Attachments: sealed}, nil
}
