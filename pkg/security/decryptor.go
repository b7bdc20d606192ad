package security

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Decryptor reverses Encryptor: it unwraps the content encryption key
// with the receiving side's RSA private key and decrypts every
// attachment referenced by an xenc:EncryptedData element.
type Decryptor struct {
	privateKey *rsa.PrivateKey
}

// NewDecryptor builds a decryptor around the receiver's key pair.
func NewDecryptor(privateKey crypto.Signer) (*Decryptor, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("security: private key is required")
	}
	rsaKey, ok := privateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: decryption needs an RSA key", ErrUnsupportedKeyType)
	}
	return &Decryptor{privateKey: rsaKey}, nil
}

// DecryptResult holds the envelope with the encryption elements removed
// and the restored plaintext attachments.
type DecryptResult struct {
	EnvelopeXML []byte
	Attachments []AttachmentData
}

// Decrypt restores the attachments of an encrypted envelope. An
// EncryptedData element whose cid: reference has no matching attachment
// is a hard error, the message cannot be restored without the part.
func (d *Decryptor) Decrypt(envelopeXML []byte, attachments []AttachmentData) (*DecryptResult, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelopeXML); err != nil {
		return nil, fmt.Errorf("security: parsing envelope: %w", err)
	}
	security := doc.FindElement("//*[local-name()='Security']")
	if security == nil {
		return nil, ErrNoSecurityHeader
	}
	encKeyElem := security.FindElement("./*[local-name()='EncryptedKey']")
	if encKeyElem == nil {
		return nil, ErrNoEncryptedKey
	}
	cipherValue := encKeyElem.FindElement(".//*[local-name()='CipherValue']")
	if cipherValue == nil {
		return nil, fmt.Errorf("security: EncryptedKey has no CipherValue")
	}
	wrappedKey, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cipherValue.Text()))
	if err != nil {
		return nil, fmt.Errorf("security: decoding wrapped key: %w", err)
	}
	cek, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, d.privateKey, wrappedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("security: RSA-OAEP key unwrap: %w", err)
	}
	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("security: creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: creating GCM: %w", err)
	}

	byID := make(map[string]int, len(attachments))
	restored := make([]AttachmentData, len(attachments))
	copy(restored, attachments)
	for i, att := range attachments {
		byID[att.ContentID] = i
	}

	encDataElems := security.FindElements("./*[local-name()='EncryptedData']")
	for _, ed := range encDataElems {
		cipherRef := ed.FindElement(".//*[local-name()='CipherReference']")
		if cipherRef == nil {
			continue
		}
		uri := cipherRef.SelectAttrValue("URI", "")
		if !strings.HasPrefix(uri, "cid:") {
			continue
		}
		contentID := strings.TrimPrefix(uri, "cid:")
		idx, ok := byID[contentID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingAttachment, contentID)
		}
		ciphertext := restored[idx].Data
		if len(ciphertext) < gcm.NonceSize() {
			return nil, fmt.Errorf("security: attachment %s: ciphertext shorter than nonce", contentID)
		}
		nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
		plaintext, err := gcm.Open(nil, nonce, sealed, nil)
		if err != nil {
			return nil, fmt.Errorf("security: attachment %s: AES-GCM decryption failed: %w", contentID, err)
		}
		restored[idx].Data = plaintext
		if mime := ed.SelectAttrValue("MimeType", ""); mime != "" {
			restored[idx].MimeType = mime
		}
		security.RemoveChild(ed)
	}
	security.RemoveChild(encKeyElem)

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("security: serializing envelope: %w", err)
	}
	return &DecryptResult{EnvelopeXML: out, Attachments: restored}, nil
}

// IsEncrypted reports whether the envelope's Security header carries an
// EncryptedKey.
func IsEncrypted(envelopeXML []byte) (bool, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelopeXML); err != nil {
		return false, fmt.Errorf("security: parsing envelope: %w", err)
	}
	security := doc.FindElement("//*[local-name()='Security']")
	if security == nil {
		return false, nil
	}
	return security.FindElement("./*[local-name()='EncryptedKey']") != nil, nil
}
