package message

import (
	"github.com/Orzech99/matter.js/pkg/crypto"
)

// Frame is a decoded message.
type Frame struct {
	Header   Header
	Protocol ProtocolHeader
	Payload  []byte
}

// EncodeUnsecured encodes the frame in clear text.
func (f *Frame) EncodeUnsecured() []byte {
	buf := make([]byte, 0, f.Header.Size()+f.Protocol.Size()+len(f.Payload))
	buf = f.Header.AppendTo(buf)
	buf = f.Protocol.AppendTo(buf)
	return append(buf, f.Payload...)
}

// EncodeSecure seals the protocol header and payload with key. nonceNodeID
// is the sender's operational node ID, or UnspecifiedNodeID for PASE.
func (f *Frame) EncodeSecure(key []byte, nonceNodeID uint64) ([]byte, error) {
	if len(key) != crypto.SymmetricKeySize {
		return nil, ErrInvalidKey
	}
	aad := f.Header.Encode()
	plaintext := f.Protocol.AppendTo(make([]byte, 0, f.Protocol.Size()+len(f.Payload)))
	plaintext = append(plaintext, f.Payload...)

	nonce := crypto.BuildAEADNonce(f.Header.securityFlags(), f.Header.Counter, nonceNodeID)
	sealed, err := crypto.AESCCM128Encrypt(key, nonce, plaintext, aad)
	if err != nil {
		return nil, err
	}
	return append(aad, sealed...), nil
}

// DecodeHeader parses only the message header, for session lookup.
func DecodeHeader(data []byte) (Header, []byte, error) {
	var h Header
	n, err := h.Decode(data)
	if err != nil {
		return Header{}, nil, err
	}
	return h, data[n:], nil
}

// DecodeUnsecured parses a clear-text frame.
func DecodeUnsecured(data []byte) (*Frame, error) {
	f := &Frame{}
	n, err := f.Header.Decode(data)
	if err != nil {
		return nil, err
	}
	if err := f.decodeBody(data[n:]); err != nil {
		return nil, err
	}
	return f, nil
}

// DecodeSecure authenticates and decrypts a frame sealed with key.
func DecodeSecure(data, key []byte, nonceNodeID uint64) (*Frame, error) {
	if len(key) != crypto.SymmetricKeySize {
		return nil, ErrInvalidKey
	}
	f := &Frame{}
	n, err := f.Header.Decode(data)
	if err != nil {
		return nil, err
	}
	if len(data)-n < MICSize {
		return nil, ErrMessageTooShort
	}
	nonce := crypto.BuildAEADNonce(f.Header.securityFlags(), f.Header.Counter, nonceNodeID)
	plaintext, err := crypto.AESCCM128Decrypt(key, nonce, data[n:], data[:n])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if err := f.decodeBody(plaintext); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Frame) decodeBody(body []byte) error {
	n, err := f.Protocol.Decode(body)
	if err != nil {
		return err
	}
	if len(body) > n {
		f.Payload = append([]byte(nil), body[n:]...)
	}
	return nil
}
