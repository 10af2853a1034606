package signer

import (
	"encoding/base64"

	"efile/internal/document"
	dErrors "efile/pkg/domain-errors"
)

// Wire element names of a signed submission.
const (
	ElemSignedSubmission = "SignedSubmission"
	ElemDocument         = "Document"
	ElemSignature        = "Signature"
	ElemCertificate      = "Certificate"

	SignatureAlgorithm = "RSA-SHA256"
)

// EncodeEnvelope wraps env in a SignedSubmission element with base64 parts.
func EncodeEnvelope(env Envelope) []byte {
	root := document.NewNode(ElemSignedSubmission)
	root.SetAttr(document.AttrNamespace, document.Namespace)

	sig := document.Leaf(ElemSignature, base64.StdEncoding.EncodeToString(env.Signature))
	sig.SetAttr("algorithm", SignatureAlgorithm)

	root.Append(
		document.Leaf(ElemDocument, base64.StdEncoding.EncodeToString(env.Document)),
		sig,
		document.Leaf(ElemCertificate, base64.StdEncoding.EncodeToString(env.Certificate)),
	)
	return document.Encode(root)
}

// DecodeEnvelope strips the SignedSubmission wrapper.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	root, err := document.Parse(raw)
	if err != nil {
		return Envelope{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse signed envelope")
	}
	if root.Name != ElemSignedSubmission {
		return Envelope{}, dErrors.Newf(dErrors.CodeInvalidInput, "expected %s, found %s", ElemSignedSubmission, root.Name)
	}
	if sig := root.Child(ElemSignature); sig != nil {
		if alg, ok := sig.Attr("algorithm"); ok && alg != SignatureAlgorithm {
			return Envelope{}, dErrors.Newf(dErrors.CodeInvalidInput, "unsupported signature algorithm %s", alg)
		}
	}

	var env Envelope
	parts := []struct {
		name string
		dst  *[]byte
	}{
		{ElemDocument, &env.Document},
		{ElemSignature, &env.Signature},
		{ElemCertificate, &env.Certificate},
	}
	for _, p := range parts {
		v, ok := root.Text(p.name)
		if !ok {
			return Envelope{}, dErrors.Newf(dErrors.CodeInvalidInput, "signed envelope has no %s", p.name)
		}
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return Envelope{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode "+p.name)
		}
		*p.dst = b
	}
	return env, nil
}

// IsEnvelope reports whether raw looks like a SignedSubmission.
func IsEnvelope(raw []byte) bool {
	root, err := document.Parse(raw)
	return err == nil && root.Name == ElemSignedSubmission
}

// VerifyWire decodes raw and verifies it. Malformed input is false.
func (s *Signer) VerifyWire(raw []byte) bool {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return false
	}
	return s.Verify(env)
}
