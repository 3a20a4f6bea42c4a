package facturae

import (
	"crypto/tls"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// Signer produces XMLDSig enveloped signatures over the document root using
// the configured certificate.
type Signer struct {
	ctx *dsig.SigningContext
}

// NewSigner loads the signing certificate and prepares a signing context.
func NewSigner(certFile, keyFile string) (*Signer, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("signing certificate and key are required")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load signing certificate: %w", err)
	}
	return &Signer{ctx: dsig.NewDefaultSigningContext(dsig.TLSCertKeyStore(cert))}, nil
}

// Sign returns a copy of root carrying an enveloped ds:Signature element.
func (s *Signer) Sign(root *etree.Element) (*etree.Element, error) {
	signed, err := s.ctx.SignEnveloped(root)
	if err != nil {
		return nil, fmt.Errorf("sign element: %w", err)
	}
	return signed, nil
}
