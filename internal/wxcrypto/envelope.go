package wxcrypto

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Envelope is the outer XML wrapper of an encrypted-channel delivery.
type Envelope struct {
	XMLName    xml.Name `xml:"xml"`
	ToUserName string   `xml:"ToUserName"`
	AgentID    string   `xml:"AgentID"`
	Encrypt    string   `xml:"Encrypt"`
}

// OpenXML extracts the encrypted field from a delivery body without decrypting it.
func OpenXML(body []byte) (Envelope, error) {
	var env Envelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: outer xml: %v", ErrInvalidEnvelope, err)
	}
	env.Encrypt = strings.TrimSpace(env.Encrypt)
	if env.Encrypt == "" {
		return Envelope{}, fmt.Errorf("%w: missing Encrypt field", ErrInvalidEnvelope)
	}
	env.ToUserName = strings.TrimSpace(env.ToUserName)
	env.AgentID = strings.TrimSpace(env.AgentID)
	return env, nil
}

type sealedReply struct {
	XMLName      xml.Name `xml:"xml"`
	Encrypt      string   `xml:"Encrypt,cdata"`
	MsgSignature string   `xml:"MsgSignature,cdata"`
	TimeStamp    int64    `xml:"TimeStamp"`
	Nonce        string   `xml:"Nonce,cdata"`
}

// Seal encrypts plainXML and wraps it with its signature, producing the body
// the platform itself would post (and accepts as an encrypted passive reply).
func (c *Cipher) Seal(v *Verifier, plainXML string, timestamp int64, nonce string) (string, error) {
	encrypted, err := c.Encrypt(plainXML)
	if err != nil {
		return "", err
	}
	ts := strconv.FormatInt(timestamp, 10)
	out, err := xml.Marshal(sealedReply{
		Encrypt:      encrypted,
		MsgSignature: v.Sign(ts, nonce, encrypted),
		TimeStamp:    timestamp,
		Nonce:        nonce,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
